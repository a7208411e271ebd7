package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeNode answers eth_blockNumber like an execution-layer node.
func fakeNode(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  "0x10",
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestCheckAll_AllHealthy(t *testing.T) {
	source := fakeNode(t)
	defer source.Close()
	dest := fakeNode(t)
	defer dest.Close()

	checker := NewChecker([]Endpoint{
		{Name: "source", URL: source.URL},
		{Name: "destination", URL: dest.URL},
	}, zap.NewNop())

	require.NoError(t, checker.CheckAll(context.Background()))
	assert.True(t, checker.Healthy("source"))
	assert.True(t, checker.Healthy("destination"))
}

func TestCheckAll_OneDownStillProbesTheOther(t *testing.T) {
	up := fakeNode(t)
	defer up.Close()
	down := httptest.NewServer(nil)
	down.Close() // connection refused from here on

	checker := NewChecker([]Endpoint{
		{Name: "source", URL: down.URL},
		{Name: "destination", URL: up.URL},
	}, zap.NewNop())

	err := checker.CheckAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source")
	assert.False(t, checker.Healthy("source"))
	assert.True(t, checker.Healthy("destination"), "healthy endpoint is still recorded")
}

func TestCheckAll_TransitionToUnhealthy(t *testing.T) {
	node := fakeNode(t)
	checker := NewChecker([]Endpoint{{Name: "source", URL: node.URL}}, zap.NewNop())

	require.NoError(t, checker.CheckAll(context.Background()))
	assert.True(t, checker.Healthy("source"))

	node.Close()
	require.Error(t, checker.CheckAll(context.Background()))
	assert.False(t, checker.Healthy("source"))
}
