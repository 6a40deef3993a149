package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dotcelery/dotcelery/internal/broker"
	"github.com/dotcelery/dotcelery/internal/deadletter"
	"github.com/dotcelery/dotcelery/internal/domain"
	"github.com/dotcelery/dotcelery/internal/killswitch"
	"github.com/dotcelery/dotcelery/internal/partition"
	"github.com/dotcelery/dotcelery/internal/resultbackend"
	"github.com/dotcelery/dotcelery/internal/revocation"
	"github.com/dotcelery/dotcelery/internal/saga"
	"github.com/dotcelery/dotcelery/internal/signal"
	"github.com/stretchr/testify/require"
)

func testHandler(t *testing.T) (*Handler, *resultbackend.Memory, *revocation.Memory, *saga.Orchestrator, *saga.Memory, *partition.Memory, *killswitch.KillSwitch, *deadletter.Memory) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))

	results := resultbackend.NewMemory()
	revocations := revocation.NewMemory()
	sagaStore := saga.NewMemory()
	brk := broker.NewMemory()
	signals := signal.NewMemory()
	orch := saga.New(sagaStore, brk, signals, nil, saga.Config{}, logger)
	lock := partition.NewMemory()
	ks := killswitch.New(killswitch.Config{ActivationThreshold: 5, TripThreshold: 0.5, TrackingWindow: time.Minute, RestartTimeout: time.Minute})
	dl := deadletter.NewMemory()

	h := NewHandler(Config{
		Results:     results,
		Revocations: revocations,
		Sagas:       orch,
		Partitions:  lock,
		KillSwitch:  ks,
		DeadLetters: dl,
		Logger:      logger,
	})
	return h, results, revocations, orch, sagaStore, lock, ks, dl
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestGetTaskResultReturnsStoredResult(t *testing.T) {
	h, results, _, _, _, _, _, _ := testHandler(t)
	require.NoError(t, results.Store(t.Context(), domain.NewResult("t1", domain.ResultSuccess)))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/t1", nil)
	req.SetPathValue("id", "t1")
	rec := httptest.NewRecorder()

	h.GetTaskResult(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body DataResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
}

func TestGetTaskResultNotFound(t *testing.T) {
	h, _, _, _, _, _, _, _ := testHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/missing", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()

	h.GetTaskResult(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRevokeTaskThenStatusReportsRevoked(t *testing.T) {
	h, _, _, _, _, _, _, _ := testHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/t1/revoke", nil)
	req.SetPathValue("id", "t1")
	rec := httptest.NewRecorder()
	h.RevokeTask(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/tasks/t1/revocation", nil)
	req.SetPathValue("id", "t1")
	rec = httptest.NewRecorder()
	h.GetRevocationStatus(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body DataResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body.Data.(map[string]any)
	require.Equal(t, true, data["revoked"])
}

func TestGetSagaReturnsProgress(t *testing.T) {
	h, _, _, orch, _, _, _, _ := testHandler(t)

	s := &domain.Saga{
		ID:    "saga-1",
		Name:  "order-fulfillment",
		State: domain.SagaExecuting,
		Steps: []domain.SagaStep{
			{ID: "s1", Order: 0, Name: "reserve", State: domain.StepCompleted},
			{ID: "s2", Order: 1, Name: "charge", State: domain.StepPending},
		},
	}
	require.NoError(t, orch.Start(t.Context(), s))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sagas/saga-1", nil)
	req.SetPathValue("id", "saga-1")
	rec := httptest.NewRecorder()
	h.GetSaga(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetPartitionStatusReflectsLock(t *testing.T) {
	h, _, _, _, _, lock, _, _ := testHandler(t)
	ok, err := lock.TryAcquire(t.Context(), "acct-7", "holder-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/queue/partitions/acct-7", nil)
	req.SetPathValue("key", "acct-7")
	rec := httptest.NewRecorder()
	h.GetPartitionStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body DataResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body.Data.(map[string]any)
	require.Equal(t, true, data["locked"])
	require.Equal(t, "holder-1", data["holder"])
}

func TestKillSwitchStatusAndReset(t *testing.T) {
	h, _, _, _, _, _, ks, _ := testHandler(t)
	for i := 0; i < 10; i++ {
		ks.RecordFailure("boom")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/queue/kill-switch", nil)
	rec := httptest.NewRecorder()
	h.GetKillSwitchStatus(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/queue/kill-switch/reset", nil)
	rec = httptest.NewRecorder()
	h.ResetKillSwitch(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body DataResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body.Data.(map[string]any)
	require.Equal(t, "ACTIVE", data["state"])
}

func TestListAndCleanupDeadLetters(t *testing.T) {
	h, _, _, _, _, _, _, dl := testHandler(t)
	require.NoError(t, dl.Save(t.Context(), deadletter.Entry{ID: "dl-1", CreatedAt: time.Now()}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/deadletters", nil)
	rec := httptest.NewRecorder()
	h.ListDeadLetters(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/deadletters/cleanup?olderThanHours=0", nil)
	rec = httptest.NewRecorder()
	h.CleanupDeadLetters(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUnconfiguredDependencyReturns503(t *testing.T) {
	h := NewHandler(Config{Logger: slog.Default()})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/t1", nil)
	req.SetPathValue("id", "t1")
	rec := httptest.NewRecorder()
	h.GetTaskResult(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
