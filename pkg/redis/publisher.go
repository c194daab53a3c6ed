package redis

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Publisher is the publishing half of Client.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{})
}

var _ Publisher = (*Client)(nil)

type outgoing struct {
	channel string
	payload []byte
}

// AsyncPublisher publishes from a single background goroutine so callers
// holding locks never wait on Redis. Messages are dropped when the queue is
// full.
type AsyncPublisher struct {
	target  Publisher
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan outgoing
	done   chan struct{}
}

// NewAsyncPublisher starts the publishing goroutine. Each publish is bounded
// by timeout.
func NewAsyncPublisher(target Publisher, logger *zap.Logger, buffer int, timeout time.Duration) *AsyncPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer < 1 {
		buffer = 1
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	p := &AsyncPublisher{
		target:  target,
		logger:  logger,
		timeout: timeout,
		queue:   make(chan outgoing, buffer),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		p.target.Publish(ctx, msg.channel, msg.payload)
		cancel()
	}
}

// Enqueue queues payload for channel without blocking. It reports false when
// the message was dropped.
func (p *AsyncPublisher) Enqueue(channel string, payload []byte) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- outgoing{channel: channel, payload: payload}:
		return true
	default:
		p.logger.Warn("Publish queue full, dropping message", zap.String("channel", channel))
		return false
	}
}

// Close stops accepting messages and waits until the queued ones are sent.
func (p *AsyncPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	<-p.done
}
