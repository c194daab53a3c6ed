package rpc_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nomidot/valtable/pkg/rpc"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestRPCClient(handler http.Handler) *rpc.HTTPClient {
	return newTestRPCClientWithOpts(handler, rpc.Opts{})
}

func newTestRPCClientWithOpts(handler http.Handler, opts rpc.Opts) *rpc.HTTPClient {
	httpClient := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			resp := rec.Result()
			if resp.Body == nil {
				resp.Body = http.NoBody
			}
			return resp, nil
		}),
		Timeout: 5 * time.Second,
	}

	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if len(opts.Endpoints) == 0 {
		opts.Endpoints = []string{"http://mock/graphql"}
	}
	opts.HTTPClient = httpClient

	return rpc.NewHTTPWithOpts(opts)
}

type graphQLBody struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

func decodeGraphQLBody(t *testing.T, r *http.Request) graphQLBody {
	t.Helper()
	var body graphQLBody
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func writeData(w http.ResponseWriter, data any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}
