package policyserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pickplace-eval/internal/gym"
	"pickplace-eval/internal/loader"
	"pickplace-eval/internal/logging"
	_ "pickplace-eval/internal/pickplace"
	"pickplace-eval/internal/policy"
)

var spec = gym.EnvSpec{ID: "PickAndPlace-v1", MaxEpisodeSteps: 50}

func setupTestServer(t *testing.T, graph bool) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	w := policy.ReachWeights(16, 4, 10)
	mu := w.Pi
	w.Mu = &mu
	for _, itr := range []string{"1", "5"} {
		if graph {
			require.NoError(t, loader.WriteGraphSave(dir, itr, w, spec))
		} else {
			require.NoError(t, loader.WriteModuleSave(dir, itr, w, spec))
		}
	}
	s, err := New(dir, logging.NewNop(), nil)
	require.NoError(t, err)
	return s, dir
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNew(t *testing.T) {
	t.Run("rejects empty dir", func(t *testing.T) {
		_, err := New("", nil, nil)
		assert.Error(t, err)
	})

	t.Run("rejects missing dir", func(t *testing.T) {
		_, err := New(filepath.Join(t.TempDir(), "nope"), nil, nil)
		assert.Error(t, err)
	})

	t.Run("uses defaults", func(t *testing.T) {
		s, err := New(t.TempDir(), nil, nil)
		require.NoError(t, err)
		assert.Equal(t, ":9003", s.Addr())
	})
}

func TestHandleHealth(t *testing.T) {
	s, _ := setupTestServer(t, false)
	rec := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandlePolicy(t *testing.T) {
	s, _ := setupTestServer(t, true)

	tests := []struct {
		name     string
		target   string
		code     int
		itr      string
		expectMu bool
	}{
		{name: "last by default", target: "/policy", code: http.StatusOK, itr: "5"},
		{name: "explicit itr", target: "/policy?itr=1", code: http.StatusOK, itr: "1"},
		{name: "deterministic keeps mu", target: "/policy?deterministic=true", code: http.StatusOK, itr: "5", expectMu: true},
		{name: "missing itr", target: "/policy?itr=9", code: http.StatusNotFound},
		{name: "bad itr", target: "/policy?itr=soon", code: http.StatusBadRequest},
		{name: "bad flag", target: "/policy?deterministic=maybe", code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, s, tt.target)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.code != http.StatusOK {
				return
			}
			var save loader.Save
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &save))
			assert.Equal(t, "tf1", save.Backend)
			assert.Equal(t, tt.itr, save.Itr)
			assert.Equal(t, tt.expectMu, save.Weights.Mu != nil)
		})
	}
}

func TestHandleEnv(t *testing.T) {
	s, _ := setupTestServer(t, false)

	rec := get(t, s, "/env?itr=5")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp EnvResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, spec, resp.Env)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/env?itr=2").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/env").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/env?itr=../etc").Code)
}

func TestHandleStats(t *testing.T) {
	s, dir := setupTestServer(t, false)
	get(t, s, "/policy")
	get(t, s, "/env?itr=5")

	rec := get(t, s, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, dir, resp.Dir)
	assert.Equal(t, "pytorch", resp.Backend)
	assert.ElementsMatch(t, []int{1, 5}, resp.Iterations)
	assert.Equal(t, int64(1), resp.PolicyRequests)
	assert.Equal(t, int64(1), resp.EnvRequests)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := setupTestServer(t, false)
	get(t, s, "/healthz")

	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "pickplace_policy_server_requests_total"))
}

func TestRemoteLoad(t *testing.T) {
	s, _ := setupTestServer(t, true)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	l := &loader.Loader{Client: srv.Client()}
	got, err := l.Load(context.Background(), srv.URL, loader.Last(), true)
	require.NoError(t, err)
	assert.Equal(t, "5", got.Save.Itr)
	assert.Equal(t, "mu", got.Head)
	require.NotNil(t, got.Env)

	_, err = l.Load(context.Background(), srv.URL, loader.At(3), false)
	assert.ErrorIs(t, err, loader.ErrNoSave)
}
