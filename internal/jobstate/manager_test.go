package jobstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowledger/flowledger/internal/audit"
	apperrors "github.com/flowledger/flowledger/pkg/errors"
	"github.com/flowledger/flowledger/pkg/security"
)

type managerFixture struct {
	manager *Manager
	store   *audit.MemoryStore
	cps     *MemoryCheckpointStore
	execs   *MemoryExecutionStore
	clock   *security.ManualClock
}

func newTestManager(t *testing.T, mutate func(*Config)) *managerFixture {
	t.Helper()

	config := DefaultConfig()
	if mutate != nil {
		mutate(config)
	}

	clock := security.NewManualClock(time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC))
	store := audit.NewMemoryStore()
	ledgerConfig := audit.DefaultConfig()
	ledgerConfig.SigningSecret = "test-secret"
	ledger := audit.NewLedger(ledgerConfig, store, clock, nil, nil, nil)

	cps := NewMemoryCheckpointStore()
	execs := NewMemoryExecutionStore()
	manager := NewManager(config, cps, execs, ledger, nil, clock, nil, nil, nil)

	return &managerFixture{manager: manager, store: store, cps: cps, execs: execs, clock: clock}
}

func (f *managerFixture) runningJob(t *testing.T, jobID string, processed, failed int64, avg time.Duration, integrity float64) *JobExecution {
	t.Helper()
	exec, err := f.manager.StartExecution(context.Background(), jobID)
	require.NoError(t, err)
	require.NoError(t, f.manager.UpdateProgress(context.Background(), jobID, processed, failed, avg, integrity))
	return exec
}

func (f *managerFixture) jobEntries(t *testing.T, eventType string) []*audit.Entry {
	t.Helper()
	entries, err := f.store.ListEntries(context.Background(), audit.EntryQuery{
		Chain:     ChainJobs,
		EventType: eventType,
	})
	require.NoError(t, err)
	return entries
}

func TestCreateCheckpoint(t *testing.T) {
	f := newTestManager(t, nil)
	exec := f.runningJob(t, "job-1", 100, 0, time.Minute, 1.0)

	cp, err := f.manager.CreateCheckpoint(context.Background(), Checkpoint{
		JobID:         "job-1",
		ExecutionID:   exec.ID,
		StepName:      "extract",
		StepNumber:    3,
		DataProcessed: 1500,
		TotalData:     5000,
	})

	require.NoError(t, err)
	assert.NotEmpty(t, cp.ID)
	assert.Equal(t, CheckpointCompleted, cp.State)
	assert.NotEmpty(t, cp.Checksum)
	assert.True(t, VerifyCheckpoint(cp))

	tampered := *cp
	tampered.DataProcessed = 9999
	assert.False(t, VerifyCheckpoint(&tampered))

	entries := f.jobEntries(t, audit.EventTypeCheckpointCreated)
	require.Len(t, entries, 1)
	assert.Equal(t, cp.ID, entries[0].EntityID)
	assert.Equal(t, "job-1", entries[0].Details["job_id"])

	latest, err := f.execs.LatestExecution(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, cp.CreatedAt, latest.LastCheckpointAt)
}

func TestCreateCheckpoint_Validation(t *testing.T) {
	f := newTestManager(t, nil)

	_, err := f.manager.CreateCheckpoint(context.Background(), Checkpoint{StepName: "extract"})

	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestCheckHealth_NoExecution(t *testing.T) {
	f := newTestManager(t, nil)

	health, err := f.manager.CheckHealth(context.Background(), "job-missing")

	require.NoError(t, err)
	assert.Equal(t, HealthFailed, health.Status)
	assert.Equal(t, RiskCritical, health.RiskLevel)
	assert.NotEmpty(t, health.Recommendations)
}

func TestCheckHealth_Healthy(t *testing.T) {
	f := newTestManager(t, nil)
	f.runningJob(t, "job-1", 1000, 10, time.Minute, 1.0)

	health, err := f.manager.CheckHealth(context.Background(), "job-1")

	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, health.Status)
	assert.Equal(t, RiskLow, health.RiskLevel)
	assert.Empty(t, health.Recommendations)
	assert.InDelta(t, 0.0099, health.FailureRate, 0.001)
}

func TestCheckHealth_WarningFailureRate(t *testing.T) {
	f := newTestManager(t, nil)
	f.runningJob(t, "job-1", 1000, 30, time.Minute, 1.0)

	health, err := f.manager.CheckHealth(context.Background(), "job-1")

	require.NoError(t, err)
	assert.Equal(t, HealthWarning, health.Status)
	assert.Equal(t, RiskMedium, health.RiskLevel)
}

func TestCheckHealth_CriticalFailureRate(t *testing.T) {
	f := newTestManager(t, nil)
	f.runningJob(t, "job-1", 1000, 60, time.Minute, 1.0)

	health, err := f.manager.CheckHealth(context.Background(), "job-1")

	require.NoError(t, err)
	assert.Equal(t, HealthCritical, health.Status)
	assert.Equal(t, RiskHigh, health.RiskLevel)
}

func TestCheckHealth_IntegrityBreachIsCritical(t *testing.T) {
	f := newTestManager(t, nil)
	f.runningJob(t, "job-1", 1000, 0, time.Minute, 0.90)

	health, err := f.manager.CheckHealth(context.Background(), "job-1")

	require.NoError(t, err)
	assert.Equal(t, HealthCritical, health.Status)
	assert.Equal(t, RiskCritical, health.RiskLevel)
}

func TestCheckHealth_SlowProcessingEscalates(t *testing.T) {
	f := newTestManager(t, nil)
	f.runningJob(t, "job-1", 1000, 0, 45*time.Minute, 1.0)

	health, err := f.manager.CheckHealth(context.Background(), "job-1")

	require.NoError(t, err)
	assert.Equal(t, HealthWarning, health.Status)
}

func TestCheckHealth_StalledExecution(t *testing.T) {
	f := newTestManager(t, nil)
	f.runningJob(t, "job-1", 100, 0, time.Minute, 1.0)

	f.clock.Advance(2 * time.Hour)

	health, err := f.manager.CheckHealth(context.Background(), "job-1")

	require.NoError(t, err)
	assert.Equal(t, HealthWarning, health.Status)
	require.NotEmpty(t, health.Recommendations)
	assert.Contains(t, health.Recommendations[0], "stalled")
}

func TestCheckHealth_CheckpointProgressResetsStall(t *testing.T) {
	f := newTestManager(t, nil)
	exec := f.runningJob(t, "job-1", 100, 0, time.Minute, 1.0)

	f.clock.Advance(50 * time.Minute)
	_, err := f.manager.CreateCheckpoint(context.Background(), Checkpoint{JobID: "job-1", ExecutionID: exec.ID, StepName: "load", StepNumber: 1})
	require.NoError(t, err)

	f.clock.Advance(40 * time.Minute)

	health, err := f.manager.CheckHealth(context.Background(), "job-1")

	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, health.Status)
}

func TestPredictFailure_BelowFloorReturnsNil(t *testing.T) {
	f := newTestManager(t, nil)
	f.runningJob(t, "job-1", 1000, 0, time.Minute, 1.0)

	prediction, err := f.manager.PredictFailure(context.Background(), "job-1")

	require.NoError(t, err)
	assert.Nil(t, prediction)
	assert.Nil(t, f.manager.LatestPrediction("job-1"))
}

func TestPredictFailure_BusinessLogic(t *testing.T) {
	f := newTestManager(t, nil)
	f.runningJob(t, "job-1", 1000, 31, time.Minute, 1.0)

	prediction, err := f.manager.PredictFailure(context.Background(), "job-1")

	require.NoError(t, err)
	require.NotNil(t, prediction)
	assert.Equal(t, 30, prediction.RiskScore)
	assert.Equal(t, CategoryBusinessLogic, prediction.Category)
	assert.InDelta(t, 0.495, prediction.Confidence, 0.0001)
	assert.Equal(t, 60*time.Minute, prediction.TimeToFailure)

	cached := f.manager.LatestPrediction("job-1")
	require.NotNil(t, cached)
	assert.Equal(t, prediction.RiskScore, cached.RiskScore)
}

func TestPredictFailure_CombinedFactors(t *testing.T) {
	f := newTestManager(t, nil)
	f.runningJob(t, "job-1", 900, 100, 40*time.Minute, 0.90)

	prediction, err := f.manager.PredictFailure(context.Background(), "job-1")

	require.NoError(t, err)
	require.NotNil(t, prediction)
	assert.Equal(t, 75, prediction.RiskScore)
	assert.Equal(t, CategoryBusinessLogic, prediction.Category)
	assert.Equal(t, 30*time.Minute, prediction.TimeToFailure)
	assert.InDelta(t, 0.7875, prediction.Confidence, 0.0001)
}

func TestPredictFailure_DatabaseCategory(t *testing.T) {
	f := newTestManager(t, nil)
	f.runningJob(t, "job-1", 1000, 0, time.Minute, 0.97)

	prediction, err := f.manager.PredictFailure(context.Background(), "job-1")

	require.NoError(t, err)
	require.NotNil(t, prediction)
	assert.Equal(t, 25, prediction.RiskScore)
	assert.Equal(t, CategoryDatabase, prediction.Category)
	assert.Contains(t, prediction.PreventionActions[0], "database")
}

func TestPredictFailure_WeightsAreConfigurable(t *testing.T) {
	f := newTestManager(t, func(c *Config) { c.PredictionProcessingWeight = 40 })
	f.runningJob(t, "job-1", 1000, 0, 30*time.Minute, 1.0)

	prediction, err := f.manager.PredictFailure(context.Background(), "job-1")

	require.NoError(t, err)
	require.NotNil(t, prediction)
	assert.Equal(t, 40, prediction.RiskScore)
	assert.Equal(t, CategoryMemory, prediction.Category)
	assert.Contains(t, prediction.PreventionActions[0], "batch sizes")
}

func TestPredictFailure_NoExecution(t *testing.T) {
	f := newTestManager(t, nil)

	_, err := f.manager.PredictFailure(context.Background(), "job-missing")

	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestGenerateRecoveryStrategy_HealthyReturnsNil(t *testing.T) {
	f := newTestManager(t, nil)
	f.runningJob(t, "job-1", 1000, 0, time.Minute, 1.0)

	strategy, err := f.manager.GenerateRecoveryStrategy(context.Background(), "job-1")

	require.NoError(t, err)
	assert.Nil(t, strategy)
	assert.Empty(t, f.jobEntries(t, audit.EventTypeRecoveryStrategy))
}

func TestGenerateRecoveryStrategy_FailedWithCheckpoint(t *testing.T) {
	f := newTestManager(t, nil)
	cp, err := f.manager.CreateCheckpoint(context.Background(), Checkpoint{JobID: "job-1", StepName: "load", StepNumber: 2})
	require.NoError(t, err)

	strategy, err := f.manager.GenerateRecoveryStrategy(context.Background(), "job-1")

	require.NoError(t, err)
	require.NotNil(t, strategy)
	assert.Equal(t, StrategyRestartFromCheckpoint, strategy.Type)
	assert.Equal(t, RiskLow, strategy.RiskLevel)
	assert.Equal(t, []string{cp.ID}, strategy.CheckpointIDs)
	assert.NotEmpty(t, strategy.Steps)

	entries := f.jobEntries(t, audit.EventTypeRecoveryStrategy)
	require.Len(t, entries, 1)
	assert.Equal(t, string(StrategyRestartFromCheckpoint), entries[0].Action)
}

func TestGenerateRecoveryStrategy_FailedWithoutCheckpoint(t *testing.T) {
	f := newTestManager(t, nil)

	strategy, err := f.manager.GenerateRecoveryStrategy(context.Background(), "job-1")

	require.NoError(t, err)
	require.NotNil(t, strategy)
	assert.Equal(t, StrategyFullRestart, strategy.Type)
	assert.Equal(t, RiskHigh, strategy.RiskLevel)
}

func TestGenerateRecoveryStrategy_CriticalWithCheckpoint(t *testing.T) {
	f := newTestManager(t, nil)
	f.runningJob(t, "job-1", 1000, 64, time.Minute, 1.0)
	_, err := f.manager.CreateCheckpoint(context.Background(), Checkpoint{JobID: "job-1", StepName: "load", StepNumber: 4})
	require.NoError(t, err)

	strategy, err := f.manager.GenerateRecoveryStrategy(context.Background(), "job-1")

	require.NoError(t, err)
	require.NotNil(t, strategy)
	assert.Equal(t, StrategyRestartFromCheckpoint, strategy.Type)
	assert.Equal(t, RiskMedium, strategy.RiskLevel)
}

func TestGenerateRecoveryStrategy_CriticalWithoutCheckpoint(t *testing.T) {
	f := newTestManager(t, nil)
	f.runningJob(t, "job-1", 1000, 64, time.Minute, 1.0)

	strategy, err := f.manager.GenerateRecoveryStrategy(context.Background(), "job-1")

	require.NoError(t, err)
	require.NotNil(t, strategy)
	assert.Equal(t, StrategyManualIntervention, strategy.Type)
	assert.Equal(t, RiskHigh, strategy.RiskLevel)
}

func TestGenerateRecoveryStrategy_WarningBypassesBreaker(t *testing.T) {
	f := newTestManager(t, nil)
	f.runningJob(t, "job-1", 1000, 30, time.Minute, 1.0)

	strategy, err := f.manager.GenerateRecoveryStrategy(context.Background(), "job-1")

	require.NoError(t, err)
	require.NotNil(t, strategy)
	assert.Equal(t, StrategyBreakerBypass, strategy.Type)
	assert.Equal(t, RiskLow, strategy.RiskLevel)
}

func TestGenerateRecoveryStrategy_PreconditionsFromPrediction(t *testing.T) {
	f := newTestManager(t, nil)
	f.runningJob(t, "job-1", 1000, 0, time.Minute, 0.97)

	_, err := f.manager.PredictFailure(context.Background(), "job-1")
	require.NoError(t, err)

	require.NoError(t, f.manager.UpdateProgress(context.Background(), "job-1", 1000, 0, time.Minute, 0.90))
	strategy, err := f.manager.GenerateRecoveryStrategy(context.Background(), "job-1")

	require.NoError(t, err)
	require.NotNil(t, strategy)
	require.NotEmpty(t, strategy.Preconditions)
	assert.Contains(t, strategy.Preconditions[0], "database connectivity")
}

func TestExecuteRecoveryStrategy_Manual(t *testing.T) {
	f := newTestManager(t, nil)

	result, err := f.manager.ExecuteRecoveryStrategy(context.Background(), &RecoveryStrategy{
		JobID:     "job-1",
		Type:      StrategyManualIntervention,
		RiskLevel: RiskHigh,
	})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "manual intervention")

	entries := f.jobEntries(t, audit.EventTypeRecoveryExecution)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.OutcomeWarning, entries[0].Outcome)
}

func TestExecuteRecoveryStrategy_CheckpointRestart(t *testing.T) {
	f := newTestManager(t, nil)
	old := f.runningJob(t, "job-1", 500, 100, time.Minute, 0.90)
	cp, err := f.manager.CreateCheckpoint(context.Background(), Checkpoint{JobID: "job-1", ExecutionID: old.ID, StepName: "load", StepNumber: 7})
	require.NoError(t, err)

	result, err := f.manager.ExecuteRecoveryStrategy(context.Background(), &RecoveryStrategy{
		JobID:     "job-1",
		Type:      StrategyRestartFromCheckpoint,
		RiskLevel: RiskMedium,
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Message, cp.ID)
	assert.NotEqual(t, old.ID, result.ExecutionID)

	execs, err := f.execs.ListExecutions(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, ExecutionStopped, execs[0].Status)
	assert.Equal(t, ExecutionRunning, execs[1].Status)

	entries := f.jobEntries(t, audit.EventTypeRecoveryExecution)
	require.Len(t, entries, 2)
	assert.Equal(t, "started", entries[0].Details["phase"])
	assert.Equal(t, audit.OutcomeSuccess, entries[1].Outcome)
}

func TestExecuteRecoveryStrategy_RestartWithoutCheckpointFails(t *testing.T) {
	f := newTestManager(t, nil)
	f.runningJob(t, "job-1", 500, 100, time.Minute, 1.0)

	result, err := f.manager.ExecuteRecoveryStrategy(context.Background(), &RecoveryStrategy{
		JobID:     "job-1",
		Type:      StrategyRestartFromCheckpoint,
		RiskLevel: RiskMedium,
	})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "no completed checkpoint")

	entries := f.jobEntries(t, audit.EventTypeRecoveryExecution)
	require.Len(t, entries, 2)
	assert.Equal(t, audit.OutcomeFailure, entries[1].Outcome)
}

func TestExecuteRecoveryStrategy_ChecksumMismatchFails(t *testing.T) {
	f := newTestManager(t, nil)
	require.NoError(t, f.cps.SaveCheckpoint(context.Background(), &Checkpoint{
		ID:       "cp-forged",
		JobID:    "job-1",
		State:    CheckpointCompleted,
		Checksum: "bogus",
	}))

	result, err := f.manager.ExecuteRecoveryStrategy(context.Background(), &RecoveryStrategy{
		JobID:     "job-1",
		Type:      StrategyRestartFromCheckpoint,
		RiskLevel: RiskMedium,
	})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "checksum")
}

func TestExecuteRecoveryStrategy_FullRestart(t *testing.T) {
	f := newTestManager(t, nil)
	old := f.runningJob(t, "job-1", 500, 400, time.Minute, 1.0)

	result, err := f.manager.ExecuteRecoveryStrategy(context.Background(), &RecoveryStrategy{
		JobID:     "job-1",
		Type:      StrategyFullRestart,
		RiskLevel: RiskHigh,
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEqual(t, old.ID, result.ExecutionID)

	latest, err := f.execs.LatestExecution(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, ExecutionRunning, latest.Status)
	assert.Equal(t, int64(0), latest.ItemsProcessed)
}

type recordingResetter struct {
	service string
}

func (r *recordingResetter) Reset(ctx context.Context, service string) {
	r.service = service
}

func TestExecuteRecoveryStrategy_BreakerBypass(t *testing.T) {
	f := newTestManager(t, nil)
	resetter := &recordingResetter{}
	f.manager.breakers = resetter
	f.manager.BindBreaker("job-1", "payment-gateway")

	result, err := f.manager.ExecuteRecoveryStrategy(context.Background(), &RecoveryStrategy{
		JobID:     "job-1",
		Type:      StrategyBreakerBypass,
		RiskLevel: RiskLow,
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "payment-gateway", resetter.service)
}

func TestExecuteRecoveryStrategy_BreakerBypassDefaultsToJobID(t *testing.T) {
	f := newTestManager(t, nil)
	resetter := &recordingResetter{}
	f.manager.breakers = resetter

	result, err := f.manager.ExecuteRecoveryStrategy(context.Background(), &RecoveryStrategy{
		JobID:     "job-1",
		Type:      StrategyBreakerBypass,
		RiskLevel: RiskLow,
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "job-1", resetter.service)
}

func TestExecuteRecoveryStrategy_BreakerBypassWithoutRegistry(t *testing.T) {
	f := newTestManager(t, nil)

	result, err := f.manager.ExecuteRecoveryStrategy(context.Background(), &RecoveryStrategy{
		JobID:     "job-1",
		Type:      StrategyBreakerBypass,
		RiskLevel: RiskLow,
	})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "no breaker registry")
}

func TestExecuteRecoveryStrategy_Validation(t *testing.T) {
	f := newTestManager(t, nil)

	_, err := f.manager.ExecuteRecoveryStrategy(context.Background(), nil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = f.manager.ExecuteRecoveryStrategy(context.Background(), &RecoveryStrategy{JobID: "job-1", Type: "REBOOT"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestUpdateProgress_RequiresRunningExecution(t *testing.T) {
	f := newTestManager(t, nil)
	f.runningJob(t, "job-1", 100, 0, time.Minute, 1.0)
	require.NoError(t, f.manager.FinishExecution(context.Background(), "job-1", ExecutionCompleted))

	err := f.manager.UpdateProgress(context.Background(), "job-1", 200, 0, time.Minute, 1.0)

	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
}

func TestFinishExecution(t *testing.T) {
	f := newTestManager(t, nil)
	f.runningJob(t, "job-1", 100, 0, time.Minute, 1.0)

	require.NoError(t, f.manager.FinishExecution(context.Background(), "job-1", ExecutionCompleted))

	latest, err := f.execs.LatestExecution(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, latest.Status)
	assert.False(t, latest.EndTime.IsZero())
}
