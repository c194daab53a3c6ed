package session

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nomidot/valtable/pkg/retry"
	"github.com/nomidot/valtable/pkg/rpc"
	"github.com/nomidot/valtable/pkg/utils"
)

// Config controls the session manager.
type Config struct {
	Tracker TrackerConfig
	// CronSpec schedules background refreshes (seconds field included).
	CronSpec string
	// RefreshTimeout bounds one scheduled refresh run.
	RefreshTimeout time.Duration
	// IdleTTL drops trackers nobody read for this long. The latest session is kept.
	IdleTTL time.Duration
	Workers int
}

// ConfigFromEnv reads PARTIAL_ROWS, REFRESH_CRON, REFRESH_TIMEOUT,
// SESSION_IDLE_TTL and FETCH_WORKERS.
func ConfigFromEnv() Config {
	return Config{
		Tracker: TrackerConfig{
			PartialRows: utils.EnvBool("PARTIAL_ROWS", false),
			Retry:       retry.ConfigFromEnv(),
		},
		CronSpec:       utils.Env("REFRESH_CRON", "*/6 * * * * *"),
		RefreshTimeout: utils.EnvDuration("REFRESH_TIMEOUT", 20*time.Second),
		IdleTTL:        utils.EnvDuration("SESSION_IDLE_TTL", 10*time.Minute),
		Workers:        utils.EnvInt("FETCH_WORKERS", 0),
	}
}

// Manager owns one tracker per session, refreshes them on a schedule and fans
// table updates out to subscribers.
type Manager struct {
	client rpc.Client
	logger *zap.Logger
	cfg    Config

	pool     pond.Pool
	trackers *xsync.Map[uint32, *Tracker]
	cron     *cron.Cron

	latest    atomic.Uint32
	hasLatest atomic.Bool

	hooksMu sync.RWMutex
	hooks   []func(*Table)

	subsMu sync.RWMutex
	subSeq uint64
	subs   map[uint64]chan *Table

	closeOnce sync.Once
}

// NewManager builds a manager and registers its refresh job. Call Start to
// run the schedule.
func NewManager(client rpc.Client, logger *zap.Logger, cfg Config) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4 * runtime.NumCPU()
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 20 * time.Second
	}

	m := &Manager{
		client:   client,
		logger:   logger,
		cfg:      cfg,
		pool:     pond.NewPool(workers, pond.WithQueueSize(workers*8)),
		trackers: xsync.NewMap[uint32, *Tracker](),
		subs:     make(map[uint64]chan *Table),
	}

	if cfg.CronSpec != "" {
		m.cron = cron.New(cron.WithSeconds(), cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		))
		_, err := m.cron.AddFunc(cfg.CronSpec, func() {
			// keep each run bounded
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RefreshTimeout)
			defer cancel()
			if err := m.RefreshAll(ctx); err != nil {
				m.logger.Warn("scheduled refresh failed", zap.Error(err))
			}
		})
		if err != nil {
			m.pool.Stop()
			return nil, fmt.Errorf("invalid refresh schedule %q: %w", cfg.CronSpec, err)
		}
	}

	return m, nil
}

// Start runs the refresh schedule.
func (m *Manager) Start() {
	if m.cron == nil {
		return
	}
	m.cron.Start()
	m.logger.Info("Session refresh scheduled", zap.String("cronSpec", m.cfg.CronSpec))
}

// Close stops the schedule, waits for running fetches and closes subscriber channels.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		if m.cron != nil {
			<-m.cron.Stop().Done()
		}
		m.pool.StopAndWait()
		m.subsMu.Lock()
		for id, ch := range m.subs {
			delete(m.subs, id)
			close(ch)
		}
		m.subsMu.Unlock()
	})
}

// OnUpdate registers fn for the tables of every session, including trackers
// created later.
func (m *Manager) OnUpdate(fn func(*Table)) {
	m.hooksMu.Lock()
	m.hooks = append(m.hooks, fn)
	m.hooksMu.Unlock()
}

// Subscribe returns a channel receiving every published table. Tables are
// dropped for a subscriber whose buffer is full. Call the returned func to
// unsubscribe.
func (m *Manager) Subscribe(buffer int) (<-chan *Table, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *Table, buffer)
	m.subsMu.Lock()
	m.subSeq++
	id := m.subSeq
	m.subs[id] = ch
	m.subsMu.Unlock()

	return ch, func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

func (m *Manager) dispatch(table *Table) {
	m.hooksMu.RLock()
	hooks := m.hooks
	m.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(table)
	}

	m.subsMu.RLock()
	defer m.subsMu.RUnlock()
	for id, ch := range m.subs {
		select {
		case ch <- table:
		default:
			m.logger.Debug("dropping table update for slow subscriber",
				zap.Uint64("subscriber", id),
				zap.Uint32("session", table.Session))
		}
	}
}

// Tracker returns the tracker of session, creating it on first use.
func (m *Manager) Tracker(session uint32) *Tracker {
	t, _ := m.trackers.LoadOrCompute(session, func() (*Tracker, bool) {
		t := NewTracker(session, m.client, m.pool, m.logger, m.cfg.Tracker)
		t.OnUpdate(m.dispatch)
		return t, false
	})
	return t
}

// Table returns the latest table of session, or nil if it is not tracked.
func (m *Manager) Table(session uint32) *Table {
	t, ok := m.trackers.Load(session)
	if !ok {
		return nil
	}
	return t.Table()
}

// Sessions returns the tracked session indexes.
func (m *Manager) Sessions() []uint32 {
	out := make([]uint32, 0, m.trackers.Size())
	m.trackers.Range(func(session uint32, _ *Tracker) bool {
		out = append(out, session)
		return true
	})
	return out
}

// Refresh fetches session now and returns the resulting table. The table is
// returned even when some queries failed.
func (m *Manager) Refresh(ctx context.Context, session uint32) (*Table, error) {
	t := m.Tracker(session)
	err := t.Refresh(ctx)
	return t.Table(), err
}

// LatestSession asks the indexer for the newest session and remembers it.
func (m *Manager) LatestSession(ctx context.Context) (uint32, error) {
	var session uint32
	err := retry.WithBackoff(ctx, m.cfg.Tracker.Retry, m.logger, "fetch latest session", func() error {
		s, err := m.client.LatestSession(ctx)
		if errors.Is(err, rpc.ErrNoSession) {
			return retry.Permanent(err)
		}
		session = s
		return err
	})
	if err != nil {
		return 0, err
	}
	if prev := m.latest.Swap(session); !m.hasLatest.Swap(true) || prev != session {
		m.logger.Info("Latest session changed", zap.Uint32("session", session))
	}
	return session, nil
}

// CachedLatest returns the last session seen by LatestSession.
func (m *Manager) CachedLatest() (uint32, bool) {
	return m.latest.Load(), m.hasLatest.Load()
}

// RefreshAll is the scheduled job: it follows the latest session, refreshes
// every tracked session and drops idle trackers.
func (m *Manager) RefreshAll(ctx context.Context) error {
	var errs []error

	latest, err := m.LatestSession(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		m.Tracker(latest)
	}

	m.evictIdle()

	var wg sync.WaitGroup
	var errMu sync.Mutex
	m.trackers.Range(func(session uint32, t *Tracker) bool {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := t.Refresh(ctx); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("session %d: %w", session, err))
				errMu.Unlock()
			}
		}()
		return true
	})
	wg.Wait()

	return errors.Join(errs...)
}

func (m *Manager) evictIdle() {
	if m.cfg.IdleTTL <= 0 {
		return
	}
	latest, hasLatest := m.CachedLatest()
	cutoff := time.Now().Add(-m.cfg.IdleTTL)
	m.trackers.Range(func(session uint32, t *Tracker) bool {
		if hasLatest && session == latest {
			return true
		}
		if t.idleSince().Before(cutoff) {
			m.trackers.Delete(session)
			m.logger.Debug("Dropped idle session tracker", zap.Uint32("session", session))
		}
		return true
	})
}
