// Package session keeps the validators table of each session up to date as
// the three staking queries resolve, fail and change.
package session

import (
	"time"

	"github.com/nomidot/valtable/pkg/validators"
)

// QueryStatus is the lifecycle state of one query.
type QueryStatus string

const (
	StatusPending QueryStatus = "pending"
	StatusLoaded  QueryStatus = "loaded"
	StatusFailed  QueryStatus = "failed"
)

// Query names one of the inputs of the table.
type Query string

const (
	QueryNominations Query = "nominations"
	QueryOffline     Query = "offlineValidators"
	QueryValidators  Query = "validators"
)

// Queries lists every input in a stable order.
var Queries = []Query{QueryNominations, QueryOffline, QueryValidators}

// QueryState describes the latest outcome of a query. A failed query keeps
// the records of its last successful fetch; Records counts those.
type QueryState struct {
	Status    QueryStatus `json:"status"`
	Records   int         `json:"records"`
	Error     string      `json:"error,omitempty"`
	Digest    uint64      `json:"-"`
	UpdatedAt time.Time   `json:"updatedAt,omitempty"`
}

// Table is one published version of a session's validators table. Tables are
// never modified after publication.
type Table struct {
	Session    uint32
	Version    uint64
	Rows       validators.Rows
	Stats      validators.JoinStats
	Complete   bool
	Pending    []Query
	Queries    map[Query]QueryState
	ComputedAt time.Time
}

// Joined reports whether the table holds join output. It is false until the
// validators query has loaded (and, without partial rows, all three have).
func (t *Table) Joined() bool {
	return t.Rows != nil
}

// Event is the compact notification broadcast when a table changes.
type Event struct {
	Session    uint32    `json:"session"`
	Version    uint64    `json:"version"`
	Complete   bool      `json:"complete"`
	Rows       int       `json:"rows"`
	Pending    []Query   `json:"pending"`
	ComputedAt time.Time `json:"computedAt"`
}

// Event summarizes the table for subscribers.
func (t *Table) Event() Event {
	pending := t.Pending
	if pending == nil {
		pending = []Query{}
	}
	return Event{
		Session:    t.Session,
		Version:    t.Version,
		Complete:   t.Complete,
		Rows:       len(t.Rows),
		Pending:    pending,
		ComputedAt: t.ComputedAt,
	}
}
