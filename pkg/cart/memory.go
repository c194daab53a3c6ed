package cart

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

type memoryList struct {
	mu    sync.Mutex
	items []Item
}

// MemoryCart keeps carts in process memory. Used when Redis is disabled and in tests.
type MemoryCart struct {
	carts *xsync.Map[string, *memoryList]
	now   func() time.Time
}

// NewMemoryCart returns an empty in-memory cart store.
func NewMemoryCart() *MemoryCart {
	return &MemoryCart{
		carts: xsync.NewMap[string, *memoryList](),
		now:   time.Now,
	}
}

func (m *MemoryCart) list(cartID string) *memoryList {
	l, _ := m.carts.LoadOrCompute(cartID, func() (*memoryList, bool) {
		return &memoryList{}, false
	})
	return l
}

// Add queues stash in cartID unless it is already there.
func (m *MemoryCart) Add(_ context.Context, cartID, stash string) (bool, error) {
	cartID, stash, err := normalize(cartID, stash)
	if err != nil {
		return false, err
	}

	l := m.list(cartID)
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, it := range l.items {
		if it.Stash == stash {
			return false, nil
		}
	}
	l.items = append(l.items, Item{Stash: stash, AddedAt: m.now().UTC()})
	return true, nil
}

// List returns a copy of the queued items, oldest first.
func (m *MemoryCart) List(_ context.Context, cartID string) ([]Item, error) {
	cartID, err := normalizeCart(cartID)
	if err != nil {
		return nil, err
	}
	l, ok := m.carts.Load(cartID)
	if !ok {
		return []Item{}, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Item, len(l.items))
	copy(out, l.items)
	return out, nil
}

// Remove drops stash from cartID. Removing an absent stash is not an error.
func (m *MemoryCart) Remove(_ context.Context, cartID, stash string) error {
	cartID, stash, err := normalize(cartID, stash)
	if err != nil {
		return err
	}
	l, ok := m.carts.Load(cartID)
	if !ok {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, it := range l.items {
		if it.Stash == stash {
			l.items = append(l.items[:i], l.items[i+1:]...)
			break
		}
	}
	return nil
}

// Clear empties cartID.
func (m *MemoryCart) Clear(_ context.Context, cartID string) error {
	cartID, err := normalizeCart(cartID)
	if err != nil {
		return err
	}
	m.carts.Delete(cartID)
	return nil
}
