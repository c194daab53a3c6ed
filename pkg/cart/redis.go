package cart

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nomidot/valtable/pkg/redis"
)

// Store is the subset of the Redis wrapper RedisCart needs.
type Store interface {
	SAdd(ctx context.Context, key, member string) (bool, error)
	SRem(ctx context.Context, key, member string) error
	XAdd(ctx context.Context, stream string, values map[string]interface{}) (string, error)
	XRange(ctx context.Context, stream, start, end string) ([]goredis.XMessage, error)
	XDel(ctx context.Context, stream string, ids ...string) error
	Del(ctx context.Context, keys ...string) error
}

var _ Store = (*redis.Client)(nil)

// RedisCart keeps membership in a set and insertion order in a stream, so
// carts survive restarts and are shared across replicas.
type RedisCart struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisCart returns a cart backed by store.
func NewRedisCart(store Store, logger *zap.Logger) *RedisCart {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCart{store: store, logger: logger, now: time.Now}
}

func membersKey(cartID string) string {
	return fmt.Sprintf("%s:cart:%s:members", redis.KeyPrefix, cartID)
}

func itemsKey(cartID string) string {
	return fmt.Sprintf("%s:cart:%s:items", redis.KeyPrefix, cartID)
}

// Add queues stash in cartID unless the member set already has it.
func (r *RedisCart) Add(ctx context.Context, cartID, stash string) (bool, error) {
	cartID, stash, err := normalize(cartID, stash)
	if err != nil {
		return false, err
	}

	added, err := r.store.SAdd(ctx, membersKey(cartID), stash)
	if err != nil {
		return false, fmt.Errorf("add %s to cart %s: %w", stash, cartID, err)
	}
	if !added {
		return false, nil
	}

	_, err = r.store.XAdd(ctx, itemsKey(cartID), map[string]interface{}{
		"stash":   stash,
		"addedAt": r.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		// roll back membership so a retry can add it again
		if rerr := r.store.SRem(ctx, membersKey(cartID), stash); rerr != nil {
			r.logger.Warn("Failed to roll back cart membership",
				zap.String("cart", cartID),
				zap.String("stash", stash),
				zap.Error(rerr))
		}
		return false, fmt.Errorf("append %s to cart %s: %w", stash, cartID, err)
	}
	return true, nil
}

// List returns queued items, oldest first.
func (r *RedisCart) List(ctx context.Context, cartID string) ([]Item, error) {
	cartID, err := normalizeCart(cartID)
	if err != nil {
		return nil, err
	}

	msgs, err := r.store.XRange(ctx, itemsKey(cartID), "-", "+")
	if err != nil {
		return nil, fmt.Errorf("list cart %s: %w", cartID, err)
	}

	items := make([]Item, 0, len(msgs))
	for _, msg := range msgs {
		stash, _ := msg.Values["stash"].(string)
		if stash == "" {
			r.logger.Warn("Skipping cart entry without stash",
				zap.String("cart", cartID),
				zap.String("id", msg.ID))
			continue
		}
		item := Item{Stash: stash}
		if raw, ok := msg.Values["addedAt"].(string); ok {
			if ts, perr := time.Parse(time.RFC3339Nano, raw); perr == nil {
				item.AddedAt = ts
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// Remove drops stash from cartID.
func (r *RedisCart) Remove(ctx context.Context, cartID, stash string) error {
	cartID, stash, err := normalize(cartID, stash)
	if err != nil {
		return err
	}

	if err := r.store.SRem(ctx, membersKey(cartID), stash); err != nil {
		return fmt.Errorf("remove %s from cart %s: %w", stash, cartID, err)
	}

	msgs, err := r.store.XRange(ctx, itemsKey(cartID), "-", "+")
	if err != nil {
		return fmt.Errorf("scan cart %s: %w", cartID, err)
	}
	var ids []string
	for _, msg := range msgs {
		if s, _ := msg.Values["stash"].(string); s == stash {
			ids = append(ids, msg.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := r.store.XDel(ctx, itemsKey(cartID), ids...); err != nil {
		return fmt.Errorf("remove %s from cart %s: %w", stash, cartID, err)
	}
	return nil
}

// Clear deletes both keys of cartID.
func (r *RedisCart) Clear(ctx context.Context, cartID string) error {
	cartID, err := normalizeCart(cartID)
	if err != nil {
		return err
	}
	if err := r.store.Del(ctx, membersKey(cartID), itemsKey(cartID)); err != nil {
		return fmt.Errorf("clear cart %s: %w", cartID, err)
	}
	return nil
}
