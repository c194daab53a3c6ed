// Package cart queues validator stashes a user picked from the validators
// table so they can be nominated later.
package cart

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrMissingStash is returned when an item has no validator stash.
	ErrMissingStash = errors.New("validator stash is required")
	// ErrMissingCart is returned when no cart id was given.
	ErrMissingCart = errors.New("cart id is required")
)

// Item is a queued validator stash.
type Item struct {
	Stash   string    `json:"stash"`
	AddedAt time.Time `json:"addedAt"`
}

// Cart stores picked validators per cart id, in insertion order.
// Adding a stash that is already queued is a no-op and reports added=false.
type Cart interface {
	Add(ctx context.Context, cartID, stash string) (added bool, err error)
	List(ctx context.Context, cartID string) ([]Item, error)
	Remove(ctx context.Context, cartID, stash string) error
	Clear(ctx context.Context, cartID string) error
}

func normalize(cartID, stash string) (string, string, error) {
	cartID, stash = strings.TrimSpace(cartID), strings.TrimSpace(stash)
	if cartID == "" {
		return "", "", ErrMissingCart
	}
	if stash == "" {
		return "", "", ErrMissingStash
	}
	return cartID, stash, nil
}

func normalizeCart(cartID string) (string, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return "", ErrMissingCart
	}
	return cartID, nil
}
