package query

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/nomidot/valtable/app/query/types"
	"github.com/nomidot/valtable/pkg/cart"
	"github.com/nomidot/valtable/pkg/logging"
	"github.com/nomidot/valtable/pkg/redis"
	"github.com/nomidot/valtable/pkg/rpc"
	"github.com/nomidot/valtable/pkg/session"
	"github.com/nomidot/valtable/pkg/utils"
	"github.com/nomidot/valtable/pkg/view"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	opts := rpc.OptsFromEnv()
	if len(opts.Endpoints) == 0 {
		logger.Fatal("GRAPHQL_ENDPOINTS is required")
	}
	client := rpc.NewHTTPWithOpts(opts)

	sessions, err := session.NewManager(client, logger, session.ConfigFromEnv())
	if err != nil {
		logger.Fatal("Unable to initialize session manager", zap.Error(err))
	}

	// Redis carries table notifications between replicas and stores carts (optional)
	var redisClient *redis.Client
	var notifier *redis.AsyncPublisher
	var store cart.Cart = cart.NewMemoryCart()
	if utils.EnvBool("REDIS_ENABLED", false) {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - carts stay in memory and updates are local only",
				zap.Error(err))
			redisClient = nil
		} else {
			store = cart.NewRedisCart(redisClient, logger)
			notifier = redis.NewAsyncPublisher(redisClient, logger,
				utils.EnvInt("REDIS_PUBLISH_BUFFER", 256), 2*time.Second)
			sessions.OnUpdate(PublishTableUpdates(notifier, logger))
			logger.Info("Redis client initialized for carts and table notifications")
		}
	} else {
		logger.Info("Redis disabled - carts stay in memory and updates are local only")
	}

	refreshTimeout := utils.EnvDuration("INITIAL_REFRESH_TIMEOUT", 30*time.Second)

	app := &types.App{
		RPC:            client,
		Sessions:       sessions,
		Cart:           store,
		RedisClient:    redisClient,
		Notifier:       notifier,
		RefreshTimeout: refreshTimeout,
		Display: view.Options{
			Decimals: uint8(utils.EnvInt("TOKEN_DECIMALS", 10)),
			Unit:     utils.Env("TOKEN_UNIT", "DOT"),
		},
		Logger: logger,
	}

	warmUp(ctx, app, refreshTimeout)

	return app
}

// PublishTableUpdates returns a table listener that queues every new version
// for the session's Redis channel. It never waits on Redis.
func PublishTableUpdates(notifier *redis.AsyncPublisher, logger *zap.Logger) func(*session.Table) {
	return func(t *session.Table) {
		payload, err := json.Marshal(t.Event())
		if err != nil {
			logger.Error("Failed to encode table event", zap.Error(err))
			return
		}
		notifier.Enqueue(redis.TableUpdatedChannel(t.Session), payload)
	}
}

// warmUp loads the latest session before the server accepts requests. A
// failure is not fatal: the scheduled refresh keeps trying.
func warmUp(ctx context.Context, app *types.App, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	latest, err := app.Sessions.LatestSession(wctx)
	if err != nil {
		app.Logger.Warn("Initial session lookup failed", zap.Error(err))
		return
	}
	table, err := app.Sessions.Refresh(wctx, latest)
	if err != nil {
		app.Logger.Warn("Initial refresh incomplete",
			zap.Uint32("session", latest),
			zap.Error(err))
		return
	}
	app.Logger.Info("Initial table loaded",
		zap.Uint32("session", latest),
		zap.Int("rows", len(table.Rows)),
		zap.Int("skipped", table.Stats.Skipped()))
}
