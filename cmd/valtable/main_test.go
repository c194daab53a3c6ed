package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomidot/valtable/pkg/rpc"
)

func newIndexer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			OperationName string `json:"operationName"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		var data any
		switch body.OperationName {
		case "LatestSession":
			data = map[string]any{"sessions": []map[string]any{{"index": 7}}}
		case "CurrentNominations":
			data = map[string]any{"nominations": []map[string]any{
				{"validatorController": "C1", "validatorStash": "S1", "nominatorController": "NC1", "nominatorStash": "N1", "stakedAmount": "10000000000"},
				{"validatorController": "C1", "validatorStash": "S1", "nominatorController": "NC2", "nominatorStash": "N2", "stakedAmount": "5000000000"},
			}}
		case "OfflineValidators":
			data = map[string]any{"offlineValidators": []map[string]any{{"validatorId": "S1"}}}
		case "CurrentValidators":
			data = map[string]any{"validators": []map[string]any{
				{"controller": "C1", "stash": "S1"},
				{"controller": "C2", "stash": "S2"},
			}}
		default:
			http.Error(w, "unknown operation", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSessionCommand(t *testing.T) {
	srv := newIndexer(t)

	out, err := execute(t, "session", "--endpoint", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "7\n", out)
}

func TestTableCommand_JSON(t *testing.T) {
	srv := newIndexer(t)

	out, err := execute(t, "table", "--endpoint", srv.URL, "--session", "7", "--json", "--nominators")
	require.NoError(t, err)

	var got struct {
		Session  uint32 `json:"session"`
		Complete bool   `json:"complete"`
		Rows     []struct {
			ValidatorStash  string   `json:"validatorStash"`
			StakedFormatted *string  `json:"stakedFormatted"`
			NominatorCount  *int     `json:"nominatorCount"`
			Nominators      []string `json:"nominators"`
			WasOffline      *bool    `json:"wasOfflineThisSession"`
		} `json:"rows"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))

	assert.Equal(t, uint32(7), got.Session)
	assert.True(t, got.Complete)
	require.Len(t, got.Rows, 2)

	first := got.Rows[0]
	assert.Equal(t, "S1", first.ValidatorStash)
	require.NotNil(t, first.StakedFormatted)
	assert.Equal(t, "1.5 DOT", *first.StakedFormatted)
	require.NotNil(t, first.NominatorCount)
	assert.Equal(t, 2, *first.NominatorCount)
	assert.ElementsMatch(t, []string{"N1", "N2"}, first.Nominators)
	require.NotNil(t, first.WasOffline)
	assert.True(t, *first.WasOffline)

	second := got.Rows[1]
	assert.Equal(t, "S2", second.ValidatorStash)
	require.NotNil(t, second.WasOffline)
	assert.False(t, *second.WasOffline)
}

func TestMissingEndpoint(t *testing.T) {
	_, err := execute(t, "session", "--endpoint", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, rpc.ErrNoEndpoints)
}
