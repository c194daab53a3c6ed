package types

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nomidot/valtable/pkg/cart"
	"github.com/nomidot/valtable/pkg/redis"
	"github.com/nomidot/valtable/pkg/rpc"
	"github.com/nomidot/valtable/pkg/session"
	"github.com/nomidot/valtable/pkg/view"
)

type App struct {
	// RPC queries the staking indexer.
	RPC rpc.Client
	// Sessions keeps one validators table per session up to date.
	Sessions *session.Manager
	// Cart queues validators picked by users.
	Cart cart.Cart
	// RedisClient is optional; nil disables cross-replica table notifications.
	RedisClient *redis.Client
	// Notifier publishes table events to Redis off the refresh path; nil without Redis.
	Notifier *redis.AsyncPublisher
	// RefreshTimeout bounds a fetch made while answering a request.
	RefreshTimeout time.Duration
	// Display controls how balances are rendered.
	Display view.Options
	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
}

// Start starts the application.
func (a *App) Start(ctx context.Context) {
	a.Sessions.Start()
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("Server stopped", zap.Error(err))
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = a.Server.Shutdown(shutdownCtx)
	a.Sessions.Close()
	if a.Notifier != nil {
		a.Notifier.Close()
	}

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close Redis connection", zap.Error(err))
		}
	}

	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
