package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRT0B13/NovaOS-sub002/internal/scheduler"
	"github.com/MRT0B13/NovaOS-sub002/internal/types"
)

type fakeSchedulerView struct {
	status      scheduler.Status
	snapshot    types.PortfolioSnapshot
	suggestions []types.Suggestion
}

func (v *fakeSchedulerView) Status() scheduler.Status              { return v.status }
func (v *fakeSchedulerView) LastSnapshot() types.PortfolioSnapshot { return v.snapshot }
func (v *fakeSchedulerView) LastSuggestions() []types.Suggestion   { return v.suggestions }

func serve(t *testing.T, view SchedulerView, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	server := NewWebServer("8080", view, "default")
	recorder := httptest.NewRecorder()
	server.router.ServeHTTP(recorder, httptest.NewRequest(method, path, nil))
	return recorder
}

func TestGetPortfolioReturnsLastSnapshot(t *testing.T) {
	view := &fakeSchedulerView{snapshot: types.PortfolioSnapshot{
		Timestamp:         time.Now(),
		TotalWalletUSD:    1000.0,
		TotalPortfolioUSD: 4000.0,
	}}

	recorder := serve(t, view, http.MethodGet, "/api/portfolio")

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	var snapshot types.PortfolioSnapshot
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &snapshot))
	assert.InDelta(t, 4000.0, snapshot.TotalPortfolioUSD, 1e-9)
}

func TestGetPortfolioBeforeFirstCycle(t *testing.T) {
	recorder := serve(t, &fakeSchedulerView{}, http.MethodGet, "/api/portfolio")

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestGetSuggestions(t *testing.T) {
	view := &fakeSchedulerView{suggestions: []types.Suggestion{
		{Priority: types.PriorityHigh, Kind: types.SuggestReduceDeployed, AmountUSD: 500.0, Reason: "cash reserve below floor"},
		{Priority: types.PriorityMedium, Kind: types.SuggestLendingDeposit, AmountUSD: 250.0, Reason: "idle stable"},
	}}

	recorder := serve(t, view, http.MethodGet, "/api/suggestions")

	require.Equal(t, http.StatusOK, recorder.Code)
	var body struct {
		Suggestions []types.Suggestion `json:"suggestions"`
		Count       int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Suggestions, 2)
	assert.Equal(t, types.PriorityHigh, body.Suggestions[0].Priority)
}

func TestGetSchedulerStatus(t *testing.T) {
	view := &fakeSchedulerView{status: scheduler.Status{
		Running:           true,
		LastCheck:         time.Now(),
		ConsecutiveErrors: 2,
	}}

	recorder := serve(t, view, http.MethodGet, "/api/scheduler")

	require.Equal(t, http.StatusOK, recorder.Code)
	var status scheduler.Status
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &status))
	assert.True(t, status.Running)
	assert.Equal(t, 2, status.ConsecutiveErrors)
}

func TestHealthDegradedWithoutDatabase(t *testing.T) {
	// state.DB is nil in tests, so the health probe reports a degraded engine.
	view := &fakeSchedulerView{status: scheduler.Status{Running: true}}

	recorder := serve(t, view, http.MethodGet, "/health")

	require.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, "DEGRADED", body["status"])
}

func TestGetCycleRejectsNonNumericID(t *testing.T) {
	recorder := serve(t, &fakeSchedulerView{}, http.MethodGet, "/api/cycles/latest")

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestCORSPreflight(t *testing.T) {
	recorder := serve(t, &fakeSchedulerView{}, http.MethodOptions, "/api/portfolio")

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "*", recorder.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, OPTIONS", recorder.Header().Get("Access-Control-Allow-Methods"))
}
