package controller

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nomidot/valtable/pkg/rpc"
	"github.com/nomidot/valtable/pkg/session"
	"github.com/nomidot/valtable/pkg/validators"
	"github.com/nomidot/valtable/pkg/view"
)

type tableResponse struct {
	Session    uint32                               `json:"session"`
	Version    uint64                               `json:"version"`
	Complete   bool                                 `json:"complete"`
	Pending    []session.Query                      `json:"pending"`
	Queries    map[session.Query]session.QueryState `json:"queries"`
	Stats      validators.JoinStats                 `json:"stats"`
	Skipped    int                                  `json:"skipped"`
	ComputedAt time.Time                            `json:"computedAt"`
	Rows       []view.Row                           `json:"rows"`
}

func (c *Controller) newTableResponse(t *session.Table, withNominators bool) tableResponse {
	opts := c.App.Display
	opts.WithNominators = withNominators

	pending := t.Pending
	if pending == nil {
		pending = []session.Query{}
	}
	return tableResponse{
		Session:    t.Session,
		Version:    t.Version,
		Complete:   t.Complete,
		Pending:    pending,
		Queries:    t.Queries,
		Stats:      t.Stats,
		Skipped:    t.Stats.Skipped(),
		ComputedAt: t.ComputedAt,
		Rows:       view.FromTable(t, opts),
	}
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}

// HandleLatestSession returns the newest session known to the indexer.
func (c *Controller) HandleLatestSession(w http.ResponseWriter, r *http.Request) {
	latest, err := c.App.Sessions.LatestSession(r.Context())
	if err != nil {
		if errors.Is(err, rpc.ErrNoSession) {
			writeError(w, http.StatusNotFound, "no session indexed")
			return
		}
		c.App.Logger.Warn("Latest session lookup failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "indexer unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint32{"session": latest})
}

// HandleSessionValidators returns the validators table of one session.
//
// Query params:
//   - refresh=true fetches the three queries before answering
//   - nominators=true includes the nominator stashes of each row
func (c *Controller) HandleSessionValidators(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["session"]
	idx, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session index")
		return
	}
	c.serveTable(w, r, uint32(idx))
}

// HandleLatestValidators returns the validators table of the latest session.
func (c *Controller) HandleLatestValidators(w http.ResponseWriter, r *http.Request) {
	latest, ok := c.App.Sessions.CachedLatest()
	if !ok {
		var err error
		latest, err = c.App.Sessions.LatestSession(r.Context())
		if err != nil {
			if errors.Is(err, rpc.ErrNoSession) {
				writeError(w, http.StatusNotFound, "no session indexed")
				return
			}
			c.App.Logger.Warn("Latest session lookup failed", zap.Error(err))
			writeError(w, http.StatusBadGateway, "indexer unavailable")
			return
		}
	}
	c.serveTable(w, r, latest)
}

func (c *Controller) serveTable(w http.ResponseWriter, r *http.Request, idx uint32) {
	table, err := c.loadTable(r.Context(), idx, queryBool(r, "refresh"))
	if err != nil && !table.Joined() {
		c.App.Logger.Warn("Validators table unavailable",
			zap.Uint32("session", idx),
			zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":   "validators table unavailable",
			"session": idx,
			"queries": table.Queries,
		})
		return
	}
	writeJSON(w, http.StatusOK, c.newTableResponse(table, queryBool(r, "nominators")))
}

// loadTable returns the tracked table of idx, fetching it when it was never
// joined or when forced. The fetch is bounded by App.RefreshTimeout. A fetch
// error is returned along with the table so callers can still serve the last
// good rows.
func (c *Controller) loadTable(ctx context.Context, idx uint32, force bool) (*session.Table, error) {
	if table := c.App.Sessions.Table(idx); table != nil && table.Joined() && !force {
		return table, nil
	}
	if c.App.RefreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.App.RefreshTimeout)
		defer cancel()
	}
	return c.App.Sessions.Refresh(ctx, idx)
}
