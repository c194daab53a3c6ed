package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nomidot/valtable/pkg/redis"
	"github.com/nomidot/valtable/pkg/session"
)

// EventTableUpdated is the message type of table notifications.
const EventTableUpdated = "table.updated"

// AllSessions subscribes to every session.
const AllSessions = "*"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ClientMessage represents messages sent by WebSocket clients.
type ClientMessage struct {
	Action  string `json:"action"`  // "subscribe" or "unsubscribe"
	Session string `json:"session"` // session index to subscribe to, or "*" for all sessions
}

// ServerMessage represents messages sent to WebSocket clients.
type ServerMessage struct {
	Type    string      `json:"type"`    // "table.updated", "subscribed", "unsubscribed", "error", "info"
	Payload interface{} `json:"payload"` // Event-specific data
}

// clientSubscriptions tracks what sessions a client is subscribed to.
type clientSubscriptions struct {
	mu       sync.RWMutex
	all      bool
	sessions map[uint32]bool
}

func newClientSubscriptions() *clientSubscriptions {
	return &clientSubscriptions{
		sessions: make(map[uint32]bool),
	}
}

// parseSessionKey accepts a session index or "*".
func parseSessionKey(key string) (uint32, bool, error) {
	if key == AllSessions {
		return 0, true, nil
	}
	n, err := strconv.ParseUint(key, 10, 32)
	if err != nil {
		return 0, false, fmt.Errorf("invalid session %q", key)
	}
	return uint32(n), false, nil
}

func (cs *clientSubscriptions) subscribe(key string) error {
	idx, all, err := parseSessionKey(key)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if all {
		cs.all = true
	} else {
		cs.sessions[idx] = true
	}
	return nil
}

func (cs *clientSubscriptions) unsubscribe(key string) error {
	idx, all, err := parseSessionKey(key)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if all {
		cs.all = false
	} else {
		delete(cs.sessions, idx)
	}
	return nil
}

// isSubscribed checks if a session is subscribed. Wildcard (*) matches all sessions.
func (cs *clientSubscriptions) isSubscribed(idx uint32) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.all || cs.sessions[idx]
}

// HandleWebSocket upgrades HTTP connection to WebSocket and streams table updates.
//
// Protocol:
// Client sends: {"action": "subscribe", "session": "1234"}  // Subscribe to one session
// Client sends: {"action": "subscribe", "session": "*"}     // Subscribe to ALL sessions
// Client sends: {"action": "unsubscribe", "session": "1234"}
//
// Server sends:
// - {"type": "table.updated", "payload": {"session": 1234, "version": 7, ...}}
// - {"type": "subscribed", "payload": {"session": "1234"}}
// - {"type": "unsubscribed", "payload": {"session": "1234"}}
// - {"type": "error", "payload": {"message": "..."}}
//
// With Redis enabled, updates of every replica are relayed; otherwise only
// this process's updates are.
//
// IMPORTANT: All goroutines have panic recovery to prevent crashes.
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func(conn *websocket.Conn) {
		err := conn.Close()
		if err != nil {
			c.App.Logger.Debug("Failed to close WebSocket connection", zap.Error(err))
		}
	}(conn)

	c.App.Logger.Info("WebSocket client connected", zap.String("remote_addr", r.RemoteAddr))

	// Create cancellable context for this connection
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Track client subscriptions
	subs := newClientSubscriptions()

	// Channel for outgoing messages
	send := make(chan ServerMessage, 256)

	// Wait group to coordinate goroutines
	var wg sync.WaitGroup

	recoverTo := func(name string) {
		if rec := recover(); rec != nil {
			c.App.Logger.Error("Panic in "+name+" goroutine",
				zap.Any("panic", rec),
				zap.String("stack", string(debug.Stack())),
				zap.String("remote_addr", r.RemoteAddr))
			// Signal shutdown on panic
			cancel()
		}
	}

	// Start update source with panic recovery
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer recoverTo("table update")
		if c.App.RedisClient != nil {
			c.subscribeToRedis(ctx, send, subs)
		} else {
			c.forwardLocalUpdates(ctx, send, subs)
		}
	}()

	// Start ping ticker (keep-alive) with panic recovery
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer recoverTo("ping ticker")
		c.sendPings(ctx, conn)
	}()

	// Start message writer with panic recovery
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer recoverTo("message writer")
		c.writeMessages(ctx, conn, send)
	}()

	// Read messages from client (for subscriptions and close detection)
	// This blocks until the connection closes
	c.readClientMessages(ctx, conn, cancel, subs, send)

	// Connection closed - cleanup
	cancel()
	wg.Wait()

	c.App.Logger.Info("WebSocket client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

// forwardLocalUpdates relays tables published by this process's session manager.
func (c *Controller) forwardLocalUpdates(ctx context.Context, send chan<- ServerMessage, subs *clientSubscriptions) {
	updates, unsubscribe := c.App.Sessions.Subscribe(64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case table, ok := <-updates:
			if !ok {
				return
			}
			if !subs.isSubscribed(table.Session) {
				continue
			}
			select {
			case send <- ServerMessage{Type: EventTableUpdated, Payload: table.Event()}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// subscribeToRedis subscribes to the table update pattern and forwards matching events to the send channel.
// Filters events server-side based on client subscriptions.
//
// This function implements automatic reconnection with exponential backoff:
// - If Redis connection is lost, it will retry with increasing delays
// - Clients are notified when Redis is unavailable
// - Automatically restores subscription when Redis recovers
// - Respects context cancellation for clean shutdown
func (c *Controller) subscribeToRedis(ctx context.Context, send chan<- ServerMessage, subs *clientSubscriptions) {
	pattern := redis.TableUpdatedPattern()

	// Retry configuration
	const (
		initialBackoff = 1 * time.Second
		maxBackoff     = 30 * time.Second
		backoffFactor  = 2.0
		jitterFactor   = 0.1 // 10% jitter
	)

	backoff := initialBackoff
	attemptNum := 0

	for {
		// Check if context is cancelled before attempting connection
		select {
		case <-ctx.Done():
			c.App.Logger.Info("Redis subscription cancelled")
			return
		default:
		}

		attemptNum++

		// Try to establish subscription
		subscriptionErr := c.attemptRedisSubscription(ctx, pattern, send, subs, attemptNum)

		// If context was cancelled, exit cleanly
		if ctx.Err() != nil {
			c.App.Logger.Info("Redis subscription cancelled")
			return
		}

		if subscriptionErr != nil {
			c.App.Logger.Warn("Redis subscription failed, will retry",
				zap.Error(subscriptionErr),
				zap.Int("attempt", attemptNum),
				zap.Duration("backoff", backoff))
		} else {
			c.App.Logger.Warn("Redis subscription channel closed, will retry",
				zap.Int("attempt", attemptNum),
				zap.Duration("backoff", backoff))
		}

		// Notify client that Redis is unavailable
		select {
		case send <- ServerMessage{
			Type: "error",
			Payload: map[string]interface{}{
				"message":     "Redis connection lost, attempting to reconnect...",
				"retryIn":     backoff.Seconds(),
				"attempt":     attemptNum,
				"recoverable": true,
			},
		}:
		case <-ctx.Done():
			return
		}

		// Wait before retrying (with context cancellation check)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			c.App.Logger.Info("Redis subscription cancelled during backoff")
			return
		}

		backoff = calculateNextBackoff(backoff, maxBackoff, backoffFactor, jitterFactor)
	}
}

// attemptRedisSubscription attempts a single Redis subscription and processes messages until
// the subscription fails or context is cancelled. Returns error if subscription setup fails,
// or nil if the subscription was established but the channel closed.
func (c *Controller) attemptRedisSubscription(
	ctx context.Context,
	pattern string,
	send chan<- ServerMessage,
	subs *clientSubscriptions,
	attemptNum int,
) error {
	c.App.Logger.Debug("Attempting Redis subscription",
		zap.String("pattern", pattern),
		zap.Int("attempt", attemptNum))

	pubsub := c.App.RedisClient.PSubscribe(ctx, pattern)
	defer func() {
		if err := pubsub.Close(); err != nil {
			c.App.Logger.Error("Error closing Redis subscription", zap.Error(err))
		}
	}()

	// Wait for confirmation of subscription with timeout
	receiveCtx, receiveCancel := context.WithTimeout(ctx, 5*time.Second)
	defer receiveCancel()

	if _, err := pubsub.Receive(receiveCtx); err != nil {
		return fmt.Errorf("failed to confirm Redis subscription: %w", err)
	}

	if attemptNum > 1 {
		select {
		case send <- ServerMessage{
			Type: "info",
			Payload: map[string]interface{}{
				"message": "Redis connection established",
				"attempt": attemptNum,
			},
		}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return c.processRedisMessages(ctx, pubsub.Channel(), send, subs)
}

// processRedisMessages forwards table events from ch until it closes or
// ctx is cancelled. Returns nil when the channel closes.
func (c *Controller) processRedisMessages(
	ctx context.Context,
	ch <-chan *goredis.Message,
	send chan<- ServerMessage,
	subs *clientSubscriptions,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			sessionIdx, ok := redis.SessionFromChannel(msg.Channel)
			if !ok {
				c.App.Logger.Warn("Failed to extract session from channel",
					zap.String("channel", msg.Channel))
				continue
			}

			// Server-side filtering: only forward if client is subscribed
			if !subs.isSubscribed(sessionIdx) {
				continue
			}

			var event session.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				c.App.Logger.Error("Failed to parse Redis message",
					zap.Error(err),
					zap.String("channel", msg.Channel))
				continue
			}

			select {
			case send <- ServerMessage{Type: EventTableUpdated, Payload: event}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// calculateNextBackoff calculates the next backoff duration with exponential growth and jitter.
func calculateNextBackoff(current, max time.Duration, factor, jitterFactor float64) time.Duration {
	next := time.Duration(float64(current) * factor)

	if next > max {
		next = max
	}

	// Add jitter: random value between -jitterFactor and +jitterFactor
	// This prevents all clients from retrying at exactly the same time
	jitter := float64(next) * jitterFactor * (2*rand.Float64() - 1)
	nextWithJitter := time.Duration(float64(next) + jitter)

	// Ensure we never go below current or above max
	if nextWithJitter < current {
		nextWithJitter = current
	}
	if nextWithJitter > max {
		nextWithJitter = max
	}

	return nextWithJitter
}

// sendPings sends periodic WebSocket ping frames to keep the connection alive.
// The client will automatically respond with pong frames, which resets the read deadline.
func (c *Controller) sendPings(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				c.App.Logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// writeMessages writes messages from the send channel to the WebSocket connection.
func (c *Controller) writeMessages(ctx context.Context, conn *websocket.Conn, send <-chan ServerMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				c.App.Logger.Debug("Failed to write WebSocket message", zap.Error(err))
				return
			}
		}
	}
}

// readClientMessages reads messages from the WebSocket connection.
// Handles subscription/unsubscription requests and detects connection closure.
func (c *Controller) readClientMessages(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc, subs *clientSubscriptions, send chan<- ServerMessage) {
	defer cancel()

	// Set a read deadline for detecting dead connections
	if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		c.App.Logger.Error("Failed to set read deadline", zap.Error(err))
		return
	}

	// Set pong handler to reset read deadline
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	reply := func(msg ServerMessage) bool {
		select {
		case send <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.App.Logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			c.App.Logger.Error("Failed to reset read deadline", zap.Error(err))
			return
		}

		var (
			out ServerMessage
			err error
		)
		switch msg.Action {
		case "subscribe":
			err = subs.subscribe(msg.Session)
			out = ServerMessage{Type: "subscribed", Payload: map[string]string{"session": msg.Session}}
		case "unsubscribe":
			err = subs.unsubscribe(msg.Session)
			out = ServerMessage{Type: "unsubscribed", Payload: map[string]string{"session": msg.Session}}
		default:
			err = fmt.Errorf("unknown action: %s", msg.Action)
		}
		if err != nil {
			out = ServerMessage{Type: "error", Payload: map[string]string{"message": err.Error()}}
		} else {
			c.App.Logger.Debug("Client subscription changed",
				zap.String("action", msg.Action),
				zap.String("session", msg.Session))
		}
		if !reply(out) {
			return
		}
	}
}
