package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowledger/flowledger/internal/audit"
	"github.com/flowledger/flowledger/internal/jobstate"
	"github.com/flowledger/flowledger/internal/monitoring"
	"github.com/flowledger/flowledger/internal/telemetry"
	"github.com/flowledger/flowledger/pkg/alerting"
	"github.com/flowledger/flowledger/pkg/config"
	"github.com/flowledger/flowledger/pkg/resilience"
	"github.com/flowledger/flowledger/pkg/security"
)

// Test setup helpers

type testBackends struct {
	registry *resilience.Registry
	ledger   *audit.Ledger
	manager  *jobstate.Manager
	sink     *telemetry.Sink
}

// setupTestRouter wires the real router against in-memory backends. No
// Postgres, Redis, or metrics are attached, so the rate limiter passes
// through and health reports only the breaker checker.
func setupTestRouter() (*gin.Engine, *testBackends) {
	clock := security.NewSystemClock()

	ledger := audit.NewLedger(nil, audit.NewMemoryStore(), clock, nil, nil, nil)
	exporter := audit.NewExporter(nil, clock)
	manager := jobstate.NewManager(nil, nil, nil, ledger, nil, clock, nil, nil, nil)
	registry := resilience.NewRegistry(resilience.RegistryConfig{})
	sink := telemetry.NewSink(telemetry.SinkConfig{Clock: clock})
	monitor := monitoring.NewService(nil, nil, nil, nil, nil, clock, nil, nil)
	alerts := alerting.NewService(nil, nil)

	router := NewRouter(&config.Config{}, Dependencies{
		Registry: registry,
		Ledger:   ledger,
		Exporter: exporter,
		Manager:  manager,
		Sink:     sink,
		Monitor:  monitor,
		Alerts:   alerts,
	})

	return router, &testBackends{
		registry: registry,
		ledger:   ledger,
		manager:  manager,
		sink:     sink,
	}
}

func performRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewBuffer(data)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var response APIResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	return response
}

func dataMap(t *testing.T, response APIResponse) map[string]interface{} {
	t.Helper()
	data, ok := response.Data.(map[string]interface{})
	require.True(t, ok, "response data is not an object")
	return data
}

func cleanEventBody() RecordEventRequest {
	return RecordEventRequest{
		TransactionID: "txn-1001",
		AccountID:     "acct-42",
		UserID:        "user-7",
		Amount:        decimal.RequireFromString("2847.53"),
		Currency:      "USD",
		EventType:     "PAYMENT_SETTLED",
		Timestamp:     time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
	}
}

// Tests

func TestHealthEndpoint(t *testing.T) {
	router, _ := setupTestRouter()

	req, _ := http.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	// Health responses are not wrapped in the API envelope
	var health map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &health)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health["status"])
}

func TestLivenessEndpoint(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "GET", "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &body)
	require.NoError(t, err)
	assert.Equal(t, "alive", body["status"])
}

func TestAPIVersionEndpoint(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "GET", "/api/v1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	response := decodeResponse(t, w)
	assert.True(t, response.Success)

	data := dataMap(t, response)
	assert.Equal(t, "FlowLedger API", data["name"])
}

func TestRequestIDPropagation(t *testing.T) {
	router, _ := setupTestRouter()

	req, _ := http.NewRequest("GET", "/api/v1", nil)
	req.Header.Set("X-Request-ID", "req-test-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-test-1", w.Header().Get("X-Request-ID"))

	response := decodeResponse(t, w)
	assert.Equal(t, "req-test-1", response.RequestID)
}

func TestSecurityHeaders(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "GET", "/api/v1", nil)

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "FlowLedger", w.Header().Get("Server"))
}

func TestRecordEvent(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "POST", "/api/v1/ledger/events", cleanEventBody())
	assert.Equal(t, http.StatusCreated, w.Code)

	response := decodeResponse(t, w)
	assert.True(t, response.Success)

	data := dataMap(t, response)
	assert.NotEmpty(t, data["entry_id"])
	assert.Greater(t, data["checks_run"].(float64), float64(0))
	assert.Nil(t, data["violations"])
}

func TestRecordEvent_InvalidBody(t *testing.T) {
	router, _ := setupTestRouter()

	// missing the required currency and event type
	w := performRequest(router, "POST", "/api/v1/ledger/events", map[string]interface{}{
		"transaction_id": "txn-1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	response := decodeResponse(t, w)
	assert.False(t, response.Success)
	assert.Equal(t, "BAD_REQUEST", response.Error.Code)
}

func TestRecordEvent_HighValueViolation(t *testing.T) {
	router, _ := setupTestRouter()

	body := cleanEventBody()
	body.Amount = decimal.NewFromInt(15000)

	w := performRequest(router, "POST", "/api/v1/ledger/events", body)
	assert.Equal(t, http.StatusCreated, w.Code)

	response := decodeResponse(t, w)
	assert.True(t, response.Success)

	data := dataMap(t, response)
	violations, ok := data["violations"].([]interface{})
	require.True(t, ok, "expected violations for a 15000 USD event")
	assert.NotEmpty(t, violations)
}

func TestVerifyChain(t *testing.T) {
	router, backends := setupTestRouter()

	w := performRequest(router, "POST", "/api/v1/ledger/events", cleanEventBody())
	require.Equal(t, http.StatusCreated, w.Code)

	w = performRequest(router, "GET", "/api/v1/ledger/financial/verify", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	response := decodeResponse(t, w)
	assert.True(t, response.Success)

	data := dataMap(t, response)
	assert.Equal(t, true, data["valid"])
	assert.Equal(t, 1.0, data["integrity_score"])

	// every verification feeds the telemetry sink
	samples := backends.sink.Recent("chain_integrity_score")
	require.NotEmpty(t, samples)
	assert.Equal(t, 1.0, samples[len(samples)-1].Value)
	assert.Equal(t, "financial", samples[len(samples)-1].Tags["chain"])
}

func TestVerifyChain_BadTimestamp(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "GET", "/api/v1/ledger/financial/verify?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	response := decodeResponse(t, w)
	assert.False(t, response.Success)
	assert.Equal(t, "BAD_REQUEST", response.Error.Code)
}

func TestRecentEntries(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "POST", "/api/v1/ledger/events", cleanEventBody())
	require.Equal(t, http.StatusCreated, w.Code)

	w = performRequest(router, "GET", "/api/v1/ledger/recent", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	response := decodeResponse(t, w)
	data := dataMap(t, response)
	assert.GreaterOrEqual(t, data["count"].(float64), float64(1))
}

func TestListRules(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "GET", "/api/v1/ledger/rules", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	response := decodeResponse(t, w)
	data := dataMap(t, response)
	assert.Greater(t, data["count"].(float64), float64(0))
}

func TestListBreakers(t *testing.T) {
	router, backends := setupTestRouter()

	backends.registry.Get("payments-gateway")
	backends.registry.Get("fraud-screening")

	w := performRequest(router, "GET", "/api/v1/breakers", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	response := decodeResponse(t, w)
	data := dataMap(t, response)
	assert.Equal(t, float64(2), data["total"])
	assert.Equal(t, float64(0), data["open"])
	assert.Equal(t, true, data["healthy"])
}

func TestGetBreaker(t *testing.T) {
	router, backends := setupTestRouter()

	backends.registry.Get("payments-gateway")

	w := performRequest(router, "GET", "/api/v1/breakers/payments-gateway", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	response := decodeResponse(t, w)
	data := dataMap(t, response)
	assert.Equal(t, "payments-gateway", data["service"])
	assert.Equal(t, resilience.StateClosed.String(), data["state"])
}

func TestGetBreaker_Unknown(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "GET", "/api/v1/breakers/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	response := decodeResponse(t, w)
	assert.False(t, response.Success)
	assert.Equal(t, "NOT_FOUND", response.Error.Code)
}

func TestResetBreaker(t *testing.T) {
	router, backends := setupTestRouter()

	backends.registry.Get("payments-gateway")

	w := performRequest(router, "POST", "/api/v1/breakers/payments-gateway/reset", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	response := decodeResponse(t, w)
	data := dataMap(t, response)
	assert.Equal(t, resilience.StateClosed.String(), data["state"])
}

func TestResetBreaker_Unknown(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "POST", "/api/v1/breakers/nonexistent/reset", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGenerateReport_TokenRoundTrip(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "POST", "/api/v1/ledger/events", cleanEventBody())
	require.Equal(t, http.StatusCreated, w.Code)

	now := time.Now().UTC()
	w = performRequest(router, "POST", "/api/v1/reports", GenerateReportRequest{
		Framework:   audit.FrameworkAML,
		PeriodStart: now.Add(-time.Hour),
		PeriodEnd:   now.Add(time.Hour),
	})
	require.Equal(t, http.StatusCreated, w.Code)

	response := decodeResponse(t, w)
	assert.True(t, response.Success)

	data := dataMap(t, response)
	exportInfo, ok := data["export_info"].(map[string]interface{})
	require.True(t, ok)
	token, ok := exportInfo["verification_token"].(string)
	require.True(t, ok)
	require.NotEmpty(t, token)

	report, ok := data["report"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, audit.FrameworkAML, report["framework"])
	assert.Greater(t, report["entries_examined"].(float64), float64(0))

	w = performRequest(router, "POST", "/api/v1/reports/verify", VerifyReportRequest{Token: token})
	assert.Equal(t, http.StatusOK, w.Code)

	verified := dataMap(t, decodeResponse(t, w))
	assert.Equal(t, true, verified["valid"])
	assert.Equal(t, report["id"], verified["report_id"])
	assert.Equal(t, audit.FrameworkAML, verified["framework"])
}

func TestGenerateReport_InvalidPeriod(t *testing.T) {
	router, _ := setupTestRouter()

	now := time.Now().UTC()
	w := performRequest(router, "POST", "/api/v1/reports", GenerateReportRequest{
		Framework:   audit.FrameworkAML,
		PeriodStart: now,
		PeriodEnd:   now.Add(-time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	response := decodeResponse(t, w)
	assert.Equal(t, "BAD_REQUEST", response.Error.Code)
}

func TestGenerateReport_UnknownFramework(t *testing.T) {
	router, _ := setupTestRouter()

	now := time.Now().UTC()
	w := performRequest(router, "POST", "/api/v1/reports", map[string]interface{}{
		"framework":    "HIPAA",
		"period_start": now.Add(-time.Hour),
		"period_end":   now,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyReport_InvalidToken(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "POST", "/api/v1/reports/verify", VerifyReportRequest{Token: "not-a-jwt"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	response := decodeResponse(t, w)
	assert.Equal(t, "VALIDATION_ERROR", response.Error.Code)
}

func TestGetReport_NoCache(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "GET", "/api/v1/reports/rpt-unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	response := decodeResponse(t, w)
	assert.Equal(t, "NOT_FOUND", response.Error.Code)
}

func TestJobLifecycle(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "POST", "/api/v1/jobs/nightly-settlement/executions", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	exec := dataMap(t, decodeResponse(t, w))
	assert.Equal(t, "nightly-settlement", exec["job_id"])
	assert.Equal(t, string(jobstate.ExecutionRunning), exec["status"])
	assert.NotEmpty(t, exec["id"])

	w = performRequest(router, "PATCH", "/api/v1/jobs/nightly-settlement/progress", UpdateProgressRequest{
		ItemsProcessed:  950,
		ItemsFailed:     10,
		AvgProcessingMS: 1200,
		IntegrityScore:  0.99,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = performRequest(router, "POST", "/api/v1/jobs/nightly-settlement/checkpoints", CreateCheckpointRequest{
		StepName:      "settle-batches",
		StepNumber:    3,
		DataProcessed: 950,
		TotalData:     2000,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	cp := dataMap(t, decodeResponse(t, w))
	assert.NotEmpty(t, cp["id"])
	assert.Equal(t, string(jobstate.CheckpointCompleted), cp["state"])
	assert.NotEmpty(t, cp["checksum"])

	w = performRequest(router, "GET", "/api/v1/jobs/nightly-settlement/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	health := dataMap(t, decodeResponse(t, w))
	assert.Equal(t, string(jobstate.HealthHealthy), health["status"])
	assert.Equal(t, string(jobstate.RiskLow), health["risk_level"])

	w = performRequest(router, "POST", "/api/v1/jobs/nightly-settlement/complete", FinishExecutionRequest{
		Status: string(jobstate.ExecutionCompleted),
	})
	require.Equal(t, http.StatusOK, w.Code)

	// progress against a finished execution is a conflict
	w = performRequest(router, "PATCH", "/api/v1/jobs/nightly-settlement/progress", UpdateProgressRequest{
		ItemsProcessed: 1000,
		IntegrityScore: 0.99,
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	response := decodeResponse(t, w)
	assert.Equal(t, "CONFLICT", response.Error.Code)
}

func TestUpdateProgress_NeverRan(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "PATCH", "/api/v1/jobs/phantom/progress", UpdateProgressRequest{
		ItemsProcessed: 10,
		IntegrityScore: 1.0,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	response := decodeResponse(t, w)
	assert.Equal(t, "NOT_FOUND", response.Error.Code)
}

func TestJobHealth_NeverRan(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "GET", "/api/v1/jobs/phantom/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	health := dataMap(t, decodeResponse(t, w))
	assert.Equal(t, string(jobstate.HealthFailed), health["status"])
	assert.Equal(t, string(jobstate.RiskCritical), health["risk_level"])
}

func TestGetPrediction_BelowFloor(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "POST", "/api/v1/jobs/calm-job/executions", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = performRequest(router, "GET", "/api/v1/jobs/calm-job/prediction", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	data := dataMap(t, decodeResponse(t, w))
	assert.Equal(t, "risk below reporting floor", data["message"])
}

func TestGenerateRecovery_HealthyJob(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "POST", "/api/v1/jobs/steady-job/executions", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = performRequest(router, "POST", "/api/v1/jobs/steady-job/recovery", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	data := dataMap(t, decodeResponse(t, w))
	assert.Equal(t, "job is healthy; no recovery required", data["message"])
}

func TestGenerateRecovery_NeverRanJob(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "POST", "/api/v1/jobs/phantom/recovery", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	strategy := dataMap(t, decodeResponse(t, w))
	assert.Equal(t, string(jobstate.StrategyFullRestart), strategy["type"])
	assert.Equal(t, string(jobstate.RiskHigh), strategy["risk_level"])
}

func TestGenerateRecovery_CriticalWithoutCheckpoint(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "POST", "/api/v1/jobs/failing-job/executions", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = performRequest(router, "PATCH", "/api/v1/jobs/failing-job/progress", UpdateProgressRequest{
		ItemsProcessed: 20,
		ItemsFailed:    80,
		IntegrityScore: 0.99,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = performRequest(router, "POST", "/api/v1/jobs/failing-job/recovery", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	strategy := dataMap(t, decodeResponse(t, w))
	assert.Equal(t, string(jobstate.StrategyManualIntervention), strategy["type"])
}

func TestGenerateRecovery_CriticalWithCheckpoint(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "POST", "/api/v1/jobs/stumbling-job/executions", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = performRequest(router, "POST", "/api/v1/jobs/stumbling-job/checkpoints", CreateCheckpointRequest{
		StepName:      "load",
		StepNumber:    1,
		DataProcessed: 100,
		TotalData:     400,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = performRequest(router, "PATCH", "/api/v1/jobs/stumbling-job/progress", UpdateProgressRequest{
		ItemsProcessed: 20,
		ItemsFailed:    80,
		IntegrityScore: 0.99,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = performRequest(router, "POST", "/api/v1/jobs/stumbling-job/recovery", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	strategy := dataMap(t, decodeResponse(t, w))
	assert.Equal(t, string(jobstate.StrategyRestartFromCheckpoint), strategy["type"])
	assert.NotEmpty(t, strategy["checkpoint_ids"])
}

func TestExecuteRecovery_FullRestart(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "POST", "/api/v1/jobs/phantom/recovery/execute", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	data := dataMap(t, decodeResponse(t, w))
	strategy, ok := data["strategy"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, string(jobstate.StrategyFullRestart), strategy["type"])

	result, ok := data["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, result["success"])
	assert.NotEmpty(t, result["execution_id"])

	// the restart left the job with a fresh running execution
	w = performRequest(router, "GET", "/api/v1/jobs/phantom/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := dataMap(t, decodeResponse(t, w))
	assert.Equal(t, string(jobstate.HealthHealthy), health["status"])
}

func TestExecuteRecovery_ManualIntervention(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "POST", "/api/v1/jobs/stuck-job/executions", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = performRequest(router, "PATCH", "/api/v1/jobs/stuck-job/progress", UpdateProgressRequest{
		ItemsProcessed: 10,
		ItemsFailed:    90,
		IntegrityScore: 0.99,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = performRequest(router, "POST", "/api/v1/jobs/stuck-job/recovery/execute", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	data := dataMap(t, decodeResponse(t, w))
	result, ok := data["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, result["success"])
	assert.Contains(t, result["message"], "manual intervention")
}

func TestExecuteRecovery_HealthyJob(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "POST", "/api/v1/jobs/fine-job/executions", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = performRequest(router, "POST", "/api/v1/jobs/fine-job/recovery/execute", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	data := dataMap(t, decodeResponse(t, w))
	assert.Equal(t, "job is healthy; no recovery required", data["message"])
}

func TestWatchAndUnwatch(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "POST", "/api/v1/jobs/watched-job/watch", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	data := dataMap(t, decodeResponse(t, w))
	assert.Equal(t, true, data["watched"])

	w = performRequest(router, "DELETE", "/api/v1/jobs/watched-job/watch", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	data = dataMap(t, decodeResponse(t, w))
	assert.Equal(t, false, data["watched"])
}

func TestDashboardEndpoint(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "GET", "/api/v1/dashboard", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	response := decodeResponse(t, w)
	assert.True(t, response.Success)
	assert.NotNil(t, response.Data)
}

func TestResourcesEndpoint(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "GET", "/api/v1/resources", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	response := decodeResponse(t, w)
	assert.True(t, response.Success)
	assert.NotNil(t, response.Data)
}

func TestAlertsEndpoint(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "GET", "/api/v1/alerts", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	data := dataMap(t, decodeResponse(t, w))
	assert.Equal(t, float64(0), data["count"])
}

func TestDeadLettersRouteAbsent(t *testing.T) {
	router, _ := setupTestRouter()

	// no dead letter queue wired, so the routes are not mounted
	w := performRequest(router, "GET", "/api/v1/deadletters", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNotFoundEndpoint(t *testing.T) {
	router, _ := setupTestRouter()

	w := performRequest(router, "GET", "/api/v1/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	response := decodeResponse(t, w)
	assert.False(t, response.Success)
	assert.Equal(t, "NOT_FOUND", response.Error.Code)
}
