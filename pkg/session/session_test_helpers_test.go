package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/nomidot/valtable/pkg/retry"
	"github.com/nomidot/valtable/pkg/validators"
)

// fakeClient serves canned query results and counts calls.
type fakeClient struct {
	mu sync.Mutex

	nominations []validators.NominationRecord
	offline     []validators.OfflineMarker
	validators  []validators.ValidatorRecord
	latest      uint32

	nominationsErr error
	offlineErr     error
	validatorsErr  error
	latestErr      error

	calls map[Query]int

	// validatorsHook runs outside the lock after the records were read, with
	// the 1-based call number.
	validatorsHook func(call int)
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		nominations: []validators.NominationRecord{
			{ValidatorController: "C1", ValidatorStash: "S1", NominatorController: "NC1", NominatorStash: "N1", StakedAmount: "100"},
			{ValidatorController: "C1", ValidatorStash: "S1", NominatorController: "NC2", NominatorStash: "N2", StakedAmount: "50"},
			{ValidatorController: "C2", ValidatorStash: "S2", NominatorController: "NC1", NominatorStash: "N1", StakedAmount: "7"},
		},
		offline: []validators.OfflineMarker{{ValidatorID: "S2"}},
		validators: []validators.ValidatorRecord{
			{Controller: "C1", Stash: "S1", Preferences: []byte(`"0x0284d717"`)},
			{Controller: "C2", Stash: "S2", Preferences: []byte(`"0x00"`)},
		},
		latest: 42,
		calls:  map[Query]int{},
	}
}

func (f *fakeClient) NominationsBySession(_ context.Context, _ uint32) ([]validators.NominationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[QueryNominations]++
	if f.nominationsErr != nil {
		return nil, f.nominationsErr
	}
	return append([]validators.NominationRecord(nil), f.nominations...), nil
}

func (f *fakeClient) OfflineValidatorsBySession(_ context.Context, _ uint32) ([]validators.OfflineMarker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[QueryOffline]++
	if f.offlineErr != nil {
		return nil, f.offlineErr
	}
	return append([]validators.OfflineMarker(nil), f.offline...), nil
}

func (f *fakeClient) ValidatorsBySession(_ context.Context, _ uint32) ([]validators.ValidatorRecord, error) {
	f.mu.Lock()
	f.calls[QueryValidators]++
	call, hook, err := f.calls[QueryValidators], f.validatorsHook, f.validatorsErr
	records := append([]validators.ValidatorRecord(nil), f.validators...)
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (f *fakeClient) LatestSession(_ context.Context) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.latestErr
}

func (f *fakeClient) set(fn func(f *fakeClient)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeClient) callCount(q Query) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[q]
}

func testRetry() retry.Config {
	return retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func newTestPool(t *testing.T) pond.Pool {
	pool := pond.NewPool(4)
	t.Cleanup(pool.StopAndWait)
	return pool
}
