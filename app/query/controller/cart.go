package controller

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nomidot/valtable/pkg/cart"
)

type addItemRequest struct {
	Stash   string  `json:"stash"`
	Session *uint32 `json:"session,omitempty"`
}

type cartResponse struct {
	Cart  string      `json:"cart"`
	Added *bool       `json:"added,omitempty"`
	Items []cart.Item `json:"items"`
}

func (c *Controller) cartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cart.ErrMissingStash), errors.Is(err, cart.ErrMissingCart):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		c.App.Logger.Error("Cart operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cart unavailable")
	}
}

// HandleCartList returns the queued validators of a cart.
func (c *Controller) HandleCartList(w http.ResponseWriter, r *http.Request) {
	cartID := mux.Vars(r)["cart"]
	items, err := c.App.Cart.List(r.Context(), cartID)
	if err != nil {
		c.cartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cartResponse{Cart: cartID, Items: items})
}

// HandleCartAdd queues a validator. The stash must be a row of the given
// session's table (latest session when omitted) once that table is known.
func (c *Controller) HandleCartAdd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cartID := mux.Vars(r)["cart"]

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Stash = strings.TrimSpace(req.Stash)
	if req.Stash == "" {
		writeError(w, http.StatusBadRequest, cart.ErrMissingStash.Error())
		return
	}

	if !c.knownStash(req.Stash, req.Session) {
		writeError(w, http.StatusNotFound, "validator not found in session")
		return
	}

	added, err := c.App.Cart.Add(ctx, cartID, req.Stash)
	if err != nil {
		c.cartError(w, err)
		return
	}
	items, err := c.App.Cart.List(ctx, cartID)
	if err != nil {
		c.cartError(w, err)
		return
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
		c.App.Logger.Debug("Validator added to cart",
			zap.String("cart", cartID),
			zap.String("stash", req.Stash))
	}
	writeJSON(w, status, cartResponse{Cart: cartID, Added: &added, Items: items})
}

// knownStash reports whether stash can be queued. Without a joined table
// to check against the stash is accepted.
func (c *Controller) knownStash(stash string, session *uint32) bool {
	var idx uint32
	if session != nil {
		idx = *session
	} else {
		latest, ok := c.App.Sessions.CachedLatest()
		if !ok {
			return true
		}
		idx = latest
	}
	table := c.App.Sessions.Table(idx)
	if table == nil || !table.Joined() {
		return true
	}
	_, ok := table.Rows[stash]
	return ok
}

// HandleCartRemove drops one validator from a cart.
func (c *Controller) HandleCartRemove(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := c.App.Cart.Remove(r.Context(), vars["cart"], vars["stash"]); err != nil {
		c.cartError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCartClear empties a cart.
func (c *Controller) HandleCartClear(w http.ResponseWriter, r *http.Request) {
	if err := c.App.Cart.Clear(r.Context(), mux.Vars(r)["cart"]); err != nil {
		c.cartError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
