package rpc_test

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nomidot/valtable/pkg/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNominationsBySession_Success tests request shape and decoding
func TestNominationsBySession_Success(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/graphql", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body := decodeGraphQLBody(t, r)
		assert.Equal(t, "CurrentNominations", body.OperationName)
		assert.Contains(t, body.Query, "nominations(")
		assert.Equal(t, float64(42), body.Variables["sessionIndex"])

		writeData(w, map[string]any{
			"nominations": []map[string]string{
				{"validatorController": "C1", "validatorStash": "S1", "nominatorController": "NC1", "nominatorStash": "N1", "stakedAmount": "100"},
				{"validatorController": "C1", "validatorStash": "S1", "nominatorController": "NC2", "nominatorStash": "N2", "stakedAmount": "50"},
			},
		})
	})

	client := newTestRPCClient(handler)

	nominations, err := client.NominationsBySession(context.Background(), 42)

	require.NoError(t, err)
	require.Len(t, nominations, 2)
	assert.Equal(t, "S1", nominations[0].ValidatorStash)
	assert.Equal(t, "N2", nominations[1].NominatorStash)
	assert.Equal(t, "50", nominations[1].StakedAmount)
}

// TestOfflineValidatorsBySession_Empty tests that a null list decodes as empty
func TestOfflineValidatorsBySession_Empty(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeGraphQLBody(t, r)
		assert.Equal(t, "OfflineValidators", body.OperationName)
		writeData(w, map[string]any{"offlineValidators": nil})
	})

	offline, err := newTestRPCClient(handler).OfflineValidatorsBySession(context.Background(), 1)

	require.NoError(t, err)
	assert.NotNil(t, offline)
	assert.Empty(t, offline)
}

// TestValidatorsBySession_KeepsPreferencesOpaque tests preferences passthrough
func TestValidatorsBySession_KeepsPreferencesOpaque(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"validators":[
			{"controller":"C1","stash":"S1","preferences":"0x0284d717"},
			{"controller":"C2","stash":"S2","preferences":null}
		]}}`))
	})

	vals, err := newTestRPCClient(handler).ValidatorsBySession(context.Background(), 7)

	require.NoError(t, err)
	require.Len(t, vals, 2)
	assert.Equal(t, `"0x0284d717"`, string(vals[0].Preferences))
	assert.Equal(t, "null", string(vals[1].Preferences))
}

// TestLatestSession tests latest session lookup and the empty case
func TestLatestSession(t *testing.T) {
	t.Run("returns the last index", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body := decodeGraphQLBody(t, r)
			assert.Empty(t, body.Variables)
			writeData(w, map[string]any{"sessions": []map[string]any{{"index": 1203}}})
		})

		session, err := newTestRPCClient(handler).LatestSession(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint32(1203), session)
	})

	t.Run("no sessions", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeData(w, map[string]any{"sessions": []any{}})
		})

		_, err := newTestRPCClient(handler).LatestSession(context.Background())
		assert.ErrorIs(t, err, rpc.ErrNoSession)
	})
}

// TestGraphQLErrors tests that errors in the response body are surfaced
func TestGraphQLErrors(t *testing.T) {
	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"data":null,"errors":[{"message":"session not found"}]}`))
	})

	client := newTestRPCClientWithOpts(handler, rpc.Opts{Endpoints: []string{"http://a/graphql", "http://b/graphql"}})
	_, err := client.ValidatorsBySession(context.Background(), 3)

	require.Error(t, err)
	var gqlErr *rpc.GraphQLError
	require.True(t, errors.As(err, &gqlErr))
	assert.Equal(t, "CurrentValidators", gqlErr.Operation)
	assert.Contains(t, err.Error(), "session not found")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "graphql errors do not fail over")
}

// TestFailover tests that a 5xx endpoint is skipped in favour of the next one
func TestFailover(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Host == "bad" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeData(w, map[string]any{"sessions": []map[string]any{{"index": 9}}})
	})

	client := newTestRPCClientWithOpts(handler, rpc.Opts{Endpoints: []string{"http://bad/graphql", "http://good/graphql"}})
	session, err := client.LatestSession(context.Background())

	require.NoError(t, err)
	assert.Equal(t, uint32(9), session)
}

// TestCircuitBreaker tests that an endpoint is skipped once its breaker opens
func TestCircuitBreaker(t *testing.T) {
	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	client := newTestRPCClientWithOpts(handler, rpc.Opts{BreakerFailures: 2, BreakerCooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := client.LatestSession(ctx)
		require.Error(t, err)
	}
	_, err := client.LatestSession(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// TestNoEndpoints tests the configuration error path
func TestNoEndpoints(t *testing.T) {
	client := rpc.NewHTTPWithOpts(rpc.Opts{})
	_, err := client.LatestSession(context.Background())
	assert.ErrorIs(t, err, rpc.ErrNoEndpoints)
}

func TestSplitEndpoints(t *testing.T) {
	assert.Equal(t, []string{"http://a", "http://b"}, rpc.SplitEndpoints(" http://a, ,http://b,"))
	assert.Empty(t, rpc.SplitEndpoints(""))
}
