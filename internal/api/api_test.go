package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/mkoziy/grants/syncer/internal/ledger"
	"github.com/mkoziy/grants/syncer/internal/metrics"
	"github.com/mkoziy/grants/syncer/internal/pipeline"
	"github.com/mkoziy/grants/syncer/internal/testutil"
)

const testToken = "s3cret"

type fakeSyncer struct {
	res     *pipeline.Result
	err     error
	status  *pipeline.Status
	lastOpt pipeline.Options
}

func (f *fakeSyncer) Run(_ context.Context, opts pipeline.Options) (*pipeline.Result, error) {
	f.lastOpt = opts
	return f.res, f.err
}

func (f *fakeSyncer) Status(context.Context) (*pipeline.Status, error) {
	if f.status == nil {
		return nil, errors.New("db down")
	}
	return f.status, nil
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

func newTestServer(t *testing.T, s Syncer, db Pinger) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics.New(reg)
	h := NewHandler(Config{AdminToken: testToken}, s, db, reg, testutil.DiscardLogger())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, token string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body := map[string]any{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp, body
}

func TestSyncRequiresAdminToken(t *testing.T) {
	srv := newTestServer(t, &fakeSyncer{}, nil)

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/admin/grants/sync", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/admin/grants/sync", "wrong")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSyncSuccess(t *testing.T) {
	fs := &fakeSyncer{res: &pipeline.Result{Success: true, RunID: "run-1", FileName: "GrantsDBExtract20260315v2.zip", RecordsProcessed: 4}}
	srv := newTestServer(t, fs, nil)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/admin/grants/sync?force=true", testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])
	require.Equal(t, "run-1", body["runId"])
	require.Equal(t, float64(4), body["recordsProcessed"])
	require.NotContains(t, body, "errorMessage")
	require.True(t, fs.lastOpt.Force)
	require.Equal(t, "manual", string(fs.lastOpt.Trigger))
}

func TestSyncBadForceFlag(t *testing.T) {
	srv := newTestServer(t, &fakeSyncer{}, nil)
	resp, _ := do(t, http.MethodPost, srv.URL+"/api/admin/grants/sync?force=maybe", testToken)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSyncAlreadyRunning(t *testing.T) {
	started := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	fs := &fakeSyncer{err: &ledger.AlreadyRunningError{
		RunID:     "run-live",
		FileName:  "GrantsDBExtract20260315v2.zip",
		StartedAt: started,
		Elapsed:   12*time.Minute + 30*time.Second,
	}}
	srv := newTestServer(t, fs, nil)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/admin/grants/sync", testToken)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "run-live", body["runId"])
	require.Equal(t, "GrantsDBExtract20260315v2.zip", body["fileName"])
	require.Equal(t, float64(12), body["elapsedMinutes"])
}

func TestSyncFailureReturnsResult(t *testing.T) {
	fs := &fakeSyncer{
		res: &pipeline.Result{Success: false, RunID: "run-2", ErrorMessage: "parse grants extract: unexpected EOF"},
		err: errors.New("parse grants extract: unexpected EOF"),
	}
	srv := newTestServer(t, fs, nil)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/admin/grants/sync", testToken)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, false, body["success"])
	require.Equal(t, "run-2", body["runId"])
	require.Contains(t, body["errorMessage"], "unexpected EOF")
}

func TestStatus(t *testing.T) {
	fs := &fakeSyncer{status: &pipeline.Status{TotalOpportunities: 10, ActiveOpportunities: 8}}
	srv := newTestServer(t, fs, nil)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/admin/grants/sync", testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(10), body["totalOpportunities"])
	require.Equal(t, float64(8), body["activeOpportunities"])

	srv = newTestServer(t, &fakeSyncer{}, nil)
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/admin/grants/sync", testToken)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeSyncer{}, fakePinger{})
	resp, body := do(t, http.MethodGet, srv.URL+"/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])

	srv = newTestServer(t, &fakeSyncer{}, fakePinger{err: errors.New("closed")})
	resp, _ = do(t, http.MethodGet, srv.URL+"/health", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeSyncer{}, nil)
	resp, _ := do(t, http.MethodGet, srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
