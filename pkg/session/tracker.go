package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/nomidot/valtable/pkg/retry"
	"github.com/nomidot/valtable/pkg/rpc"
	"github.com/nomidot/valtable/pkg/validators"
)

// TrackerConfig controls how a tracker fetches and joins.
type TrackerConfig struct {
	// PartialRows joins as soon as validators are loaded instead of waiting
	// for all three queries.
	PartialRows bool
	Retry       retry.Config
}

// Tracker owns the latest snapshot of each query for one session and
// republishes the table whenever a snapshot changes.
type Tracker struct {
	session uint32
	client  rpc.Client
	pool    pond.Pool
	logger  *zap.Logger
	cfg     TrackerConfig
	now     func() time.Time

	mu          sync.Mutex
	nominations []validators.NominationRecord
	offline     []validators.OfflineMarker
	validators  []validators.ValidatorRecord
	have        map[Query]bool
	states      map[Query]QueryState
	// issued counts fetches started per query; applied is the newest one
	// whose result was taken. Results older than applied are dropped.
	issued      map[Query]uint64
	applied     map[Query]uint64
	version     uint64
	listeners   []func(*Table)

	current    atomic.Pointer[Table]
	lastAccess atomic.Int64
}

// NewTracker creates a tracker and publishes an initial all-pending table.
// pool may be shared between trackers.
func NewTracker(session uint32, client rpc.Client, pool pond.Pool, logger *zap.Logger, cfg TrackerConfig) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		session: session,
		client:  client,
		pool:    pool,
		logger:  logger.With(zap.Uint32("session", session)),
		cfg:     cfg,
		now:     time.Now,
		have:    make(map[Query]bool, len(Queries)),
		states:  make(map[Query]QueryState, len(Queries)),
		issued:  make(map[Query]uint64, len(Queries)),
		applied: make(map[Query]uint64, len(Queries)),
	}
	for _, q := range Queries {
		t.states[q] = QueryState{Status: StatusPending}
	}
	t.touch()
	t.mu.Lock()
	t.recomputeLocked()
	t.mu.Unlock()
	return t
}

// Session returns the session index this tracker follows.
func (t *Tracker) Session() uint32 { return t.session }

// Table returns the latest published table. It is never nil.
func (t *Tracker) Table() *Table {
	t.touch()
	return t.current.Load()
}

// OnUpdate registers fn to receive every table this tracker publishes from
// now on. fn runs synchronously, in version order, and must not call back
// into the tracker.
func (t *Tracker) OnUpdate(fn func(*Table)) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

func (t *Tracker) touch() {
	t.lastAccess.Store(time.Now().UnixNano())
}

func (t *Tracker) idleSince() time.Time {
	return time.Unix(0, t.lastAccess.Load())
}

// nextSeq numbers a fetch of q at the moment it starts.
func (t *Tracker) nextSeq(q Query) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.issued[q]++
	return t.issued[q]
}

// Refresh fetches the three queries concurrently. Each result is applied as
// soon as it arrives unless a fetch started later was applied first, so
// overlapping refreshes never publish older data over newer. The returned
// error joins the failures of every query that could not be fetched; the
// table still reflects the ones that could.
func (t *Tracker) Refresh(ctx context.Context) error {
	group := t.pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	var (
		errMu sync.Mutex
		errs  []error
	)
	record := func(err error) {
		if err == nil {
			return
		}
		errMu.Lock()
		errs = append(errs, err)
		errMu.Unlock()
	}

	nomSeq, offSeq, valSeq := t.nextSeq(QueryNominations), t.nextSeq(QueryOffline), t.nextSeq(QueryValidators)

	group.Submit(func() {
		var records []validators.NominationRecord
		err := t.fetch(groupCtx, QueryNominations, func(ctx context.Context) (err error) {
			records, err = t.client.NominationsBySession(ctx, t.session)
			return err
		})
		t.applyNominations(nomSeq, records, err)
		record(err)
	})
	group.Submit(func() {
		var records []validators.OfflineMarker
		err := t.fetch(groupCtx, QueryOffline, func(ctx context.Context) (err error) {
			records, err = t.client.OfflineValidatorsBySession(ctx, t.session)
			return err
		})
		t.applyOffline(offSeq, records, err)
		record(err)
	})
	group.Submit(func() {
		var records []validators.ValidatorRecord
		err := t.fetch(groupCtx, QueryValidators, func(ctx context.Context) (err error) {
			records, err = t.client.ValidatorsBySession(ctx, t.session)
			return err
		})
		t.applyValidators(valSeq, records, err)
		record(err)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		t.logger.Warn("refresh group encountered error", zap.Error(err))
	}

	if err := ctx.Err(); err != nil {
		record(err)
	}
	return errors.Join(errs...)
}

func (t *Tracker) fetch(ctx context.Context, q Query, fn func(context.Context) error) error {
	op := fmt.Sprintf("fetch %s for session %d", q, t.session)
	return retry.WithBackoff(ctx, t.cfg.Retry, t.logger, op, func() error {
		err := fn(ctx)
		var gqlErr *rpc.GraphQLError
		if errors.As(err, &gqlErr) {
			// the server rejected the query; asking again will not help
			return retry.Permanent(err)
		}
		return err
	})
}

// ApplyNominations records the outcome of a nominations fetch that just
// finished. It supersedes any fetch still in flight.
func (t *Tracker) ApplyNominations(records []validators.NominationRecord, err error) bool {
	return t.applyNominations(t.nextSeq(QueryNominations), records, err)
}

// ApplyOffline records the outcome of an offline validators fetch.
func (t *Tracker) ApplyOffline(records []validators.OfflineMarker, err error) bool {
	return t.applyOffline(t.nextSeq(QueryOffline), records, err)
}

// ApplyValidators records the outcome of a validators fetch.
func (t *Tracker) ApplyValidators(records []validators.ValidatorRecord, err error) bool {
	return t.applyValidators(t.nextSeq(QueryValidators), records, err)
}

func (t *Tracker) applyNominations(seq uint64, records []validators.NominationRecord, err error) bool {
	return t.apply(QueryNominations, seq, len(records), digestNominations(records), err, func() {
		t.nominations = records
	})
}

func (t *Tracker) applyOffline(seq uint64, records []validators.OfflineMarker, err error) bool {
	return t.apply(QueryOffline, seq, len(records), digestOffline(records), err, func() {
		t.offline = records
	})
}

func (t *Tracker) applyValidators(seq uint64, records []validators.ValidatorRecord, err error) bool {
	return t.apply(QueryValidators, seq, len(records), digestValidators(records), err, func() {
		t.validators = records
	})
}

// apply updates the query state and republishes. It reports whether a new
// table version was published. A result from a fetch older than the last
// applied one, or a successful result identical to the loaded snapshot,
// changes nothing.
func (t *Tracker) apply(q Query, seq uint64, count int, digest uint64, err error, store func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if seq <= t.applied[q] {
		t.logger.Debug("dropping stale query result",
			zap.String("query", string(q)),
			zap.Uint64("seq", seq),
			zap.Uint64("applied", t.applied[q]))
		return false
	}
	t.applied[q] = seq

	prev := t.states[q]
	if err != nil {
		if prev.Status == StatusFailed && prev.Error == err.Error() {
			return false
		}
		t.logger.Warn("query failed", zap.String("query", string(q)), zap.Error(err))
		prev.Status = StatusFailed
		prev.Error = err.Error()
		prev.UpdatedAt = t.now().UTC()
		t.states[q] = prev
		t.recomputeLocked()
		return true
	}

	if prev.Status == StatusLoaded && prev.Digest == digest {
		return false
	}

	store()
	t.have[q] = true
	t.states[q] = QueryState{
		Status:    StatusLoaded,
		Records:   count,
		Digest:    digest,
		UpdatedAt: t.now().UTC(),
	}
	t.recomputeLocked()
	return true
}

// recomputeLocked rebuilds the whole table from the current snapshots and
// publishes it under the next version. Caller holds mu.
func (t *Tracker) recomputeLocked() {
	loaded := validators.Loaded{
		Nominations: t.have[QueryNominations],
		Offline:     t.have[QueryOffline],
		Validators:  t.have[QueryValidators],
	}
	complete := loaded == validators.AllLoaded

	table := &Table{
		Session:    t.session,
		Complete:   complete,
		Queries:    make(map[Query]QueryState, len(t.states)),
		ComputedAt: t.now().UTC(),
	}
	for q, s := range t.states {
		table.Queries[q] = s
	}
	for _, q := range Queries {
		if !t.have[q] {
			table.Pending = append(table.Pending, q)
		}
	}

	switch {
	case complete:
		res := validators.JoinRows(t.nominations, t.offline, t.validators)
		table.Rows, table.Stats = res.Rows, res.Stats
	case t.cfg.PartialRows && loaded.Validators:
		res := validators.JoinPartial(loaded, t.nominations, t.offline, t.validators)
		table.Rows, table.Stats = res.Rows, res.Stats
	}

	t.version++
	table.Version = t.version
	t.current.Store(table)

	if table.Rows != nil {
		t.logger.Debug("table recomputed",
			zap.Uint64("version", table.Version),
			zap.Bool("complete", table.Complete),
			zap.Int("rows", len(table.Rows)),
			zap.Int("skipped", table.Stats.Skipped()))
	}

	for _, fn := range t.listeners {
		fn(table)
	}
}
