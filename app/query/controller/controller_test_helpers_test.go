package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nomidot/valtable/app/query/types"
	"github.com/nomidot/valtable/pkg/cart"
	"github.com/nomidot/valtable/pkg/retry"
	"github.com/nomidot/valtable/pkg/session"
	"github.com/nomidot/valtable/pkg/validators"
	"github.com/nomidot/valtable/pkg/view"
)

type stubRPC struct {
	mu            sync.Mutex
	latest        uint32
	latestErr     error
	validatorsErr error
	// validatorsHang makes ValidatorsBySession wait for its context.
	validatorsHang bool
}

func (s *stubRPC) NominationsBySession(_ context.Context, _ uint32) ([]validators.NominationRecord, error) {
	return []validators.NominationRecord{
		{ValidatorController: "C1", ValidatorStash: "S1", NominatorController: "NC1", NominatorStash: "N1", StakedAmount: "10000000000"},
		{ValidatorController: "C1", ValidatorStash: "S1", NominatorController: "NC2", NominatorStash: "N2", StakedAmount: "5000000000"},
		{ValidatorController: "C2", ValidatorStash: "S2", NominatorController: "NC1", NominatorStash: "N1", StakedAmount: "20000000000"},
	}, nil
}

func (s *stubRPC) OfflineValidatorsBySession(_ context.Context, _ uint32) ([]validators.OfflineMarker, error) {
	return []validators.OfflineMarker{{ValidatorID: "S1"}}, nil
}

func (s *stubRPC) ValidatorsBySession(ctx context.Context, _ uint32) ([]validators.ValidatorRecord, error) {
	s.mu.Lock()
	hang := s.validatorsHang
	s.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.validatorsErr != nil {
		return nil, s.validatorsErr
	}
	return []validators.ValidatorRecord{
		{Controller: "C1", Stash: "S1", Preferences: json.RawMessage(`"0x0284d717"`)},
		{Controller: "C2", Stash: "S2", Preferences: json.RawMessage(`"0x00"`)},
	}, nil
}

func (s *stubRPC) LatestSession(_ context.Context) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.latestErr
}

func newTestApp(t *testing.T, client *stubRPC) *types.App {
	logger := zaptest.NewLogger(t)
	manager, err := session.NewManager(client, logger, session.Config{
		Tracker: session.TrackerConfig{
			Retry: retry.Config{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		},
		Workers: 2,
	})
	require.NoError(t, err)
	t.Cleanup(manager.Close)

	return &types.App{
		RPC:      client,
		Sessions: manager,
		Cart:     cart.NewMemoryCart(),
		Display:  view.Options{Decimals: 10, Unit: "DOT"},
		Logger:   logger,
	}
}

func newTestRouter(t *testing.T, app *types.App) http.Handler {
	router, err := NewController(app).NewRouter()
	require.NoError(t, err)
	return WithCORS(router)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
