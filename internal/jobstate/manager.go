package jobstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowledger/flowledger/internal/audit"
	"github.com/flowledger/flowledger/pkg/alerting"
	"github.com/flowledger/flowledger/pkg/errors"
	"github.com/flowledger/flowledger/pkg/logging"
	"github.com/flowledger/flowledger/pkg/metrics"
	"github.com/flowledger/flowledger/pkg/security"
)

// ChainJobs is the audit chain job lifecycle events are written to.
const ChainJobs = "jobs"

// Config contains job health and recovery configuration. The prediction
// weights and thresholds are deliberately tunable; they are heuristics,
// not a fitted model.
type Config struct {
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	MaxFailureRate      float64       `json:"max_failure_rate"`
	MaxProcessingTime   time.Duration `json:"max_processing_time"`
	MinDataIntegrity    float64       `json:"min_data_integrity"`
	StalledAfter        time.Duration `json:"stalled_after"`
	AutoExecuteDelay    time.Duration `json:"auto_execute_delay"`
	RiskFloor           int           `json:"risk_floor"`

	PredictionFailureRate      float64       `json:"prediction_failure_rate"`
	PredictionFailureWeight    int           `json:"prediction_failure_weight"`
	PredictionProcessingTime   time.Duration `json:"prediction_processing_time"`
	PredictionProcessingWeight int           `json:"prediction_processing_weight"`
	PredictionIntegrity        float64       `json:"prediction_integrity"`
	PredictionIntegrityWeight  int           `json:"prediction_integrity_weight"`
}

// DefaultConfig returns default recovery configuration.
func DefaultConfig() *Config {
	return &Config{
		HealthCheckInterval: 30 * time.Second,
		MaxFailureRate:      0.05,
		MaxProcessingTime:   30 * time.Minute,
		MinDataIntegrity:    0.95,
		StalledAfter:        time.Hour,
		AutoExecuteDelay:    5 * time.Second,
		RiskFloor:           25,

		PredictionFailureRate:      0.02,
		PredictionFailureWeight:    30,
		PredictionProcessingTime:   25 * time.Minute,
		PredictionProcessingWeight: 20,
		PredictionIntegrity:        0.98,
		PredictionIntegrityWeight:  25,
	}
}

// BreakerResetter resets a named circuit breaker. The resilience registry
// satisfies this; the manager never imports it directly.
type BreakerResetter interface {
	Reset(ctx context.Context, service string)
}

// Manager owns job checkpoints, execution records, health evaluation,
// failure prediction, and recovery strategies. Health snapshots are
// recomputed from scratch on every check; only checkpoints and executions
// are persisted.
type Manager struct {
	config      *Config
	checkpoints CheckpointStore
	executions  ExecutionStore
	ledger      *audit.Ledger
	breakers    BreakerResetter
	clock       security.Clock
	logger      *logging.Logger
	metrics     *metrics.Metrics
	alerts      *alerting.Service

	mu          sync.Mutex
	predictions map[string]*FailurePrediction
	services    map[string]string
	watchers    map[string]*jobWatcher
}

// NewManager creates a recovery manager. Nil stores fall back to in-memory
// implementations; a nil ledger disables auditing.
func NewManager(config *Config, checkpoints CheckpointStore, executions ExecutionStore, ledger *audit.Ledger, breakers BreakerResetter, clock security.Clock, logger *logging.Logger, m *metrics.Metrics, alerts *alerting.Service) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if checkpoints == nil {
		checkpoints = NewMemoryCheckpointStore()
	}
	if executions == nil {
		executions = NewMemoryExecutionStore()
	}
	if clock == nil {
		clock = security.NewSystemClock()
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &Manager{
		config:      config,
		checkpoints: checkpoints,
		executions:  executions,
		ledger:      ledger,
		breakers:    breakers,
		clock:       clock,
		logger:      logger,
		metrics:     m,
		alerts:      alerts,
		predictions: make(map[string]*FailurePrediction),
		services:    make(map[string]string),
		watchers:    make(map[string]*jobWatcher),
	}
}

// BindBreaker associates a job with the circuit breaker service name the
// bypass strategy should reset. Unbound jobs default to their job ID.
func (m *Manager) BindBreaker(jobID, service string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[jobID] = service
}

// checkpointContent is the canonical form hashed into a checksum.
type checkpointContent struct {
	ID            string `json:"id"`
	JobID         string `json:"job_id"`
	ExecutionID   string `json:"execution_id"`
	StepName      string `json:"step_name"`
	StepNumber    int    `json:"step_number"`
	DataProcessed int64  `json:"data_processed"`
	TotalData     int64  `json:"total_data"`
	State         string `json:"state"`
	CreatedAt     string `json:"created_at"`
}

func checkpointChecksum(cp *Checkpoint) (string, error) {
	return security.HashCanonical(checkpointContent{
		ID:            cp.ID,
		JobID:         cp.JobID,
		ExecutionID:   cp.ExecutionID,
		StepName:      cp.StepName,
		StepNumber:    cp.StepNumber,
		DataProcessed: cp.DataProcessed,
		TotalData:     cp.TotalData,
		State:         string(cp.State),
		CreatedAt:     cp.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// VerifyCheckpoint recomputes the checksum and compares it to the stored
// one.
func VerifyCheckpoint(cp *Checkpoint) bool {
	sum, err := checkpointChecksum(cp)
	if err != nil {
		return false
	}
	return sum == cp.Checksum
}

// CreateCheckpoint assigns identity, checksums, persists, and audits a
// checkpoint. The checkpoint is immutable once saved. An audit write
// failure is returned together with the saved checkpoint.
func (m *Manager) CreateCheckpoint(ctx context.Context, cp Checkpoint) (*Checkpoint, error) {
	if cp.JobID == "" {
		return nil, errors.NewValidationError("checkpoint job ID is required")
	}
	if cp.State == "" {
		cp.State = CheckpointCompleted
	}

	cp.ID = security.NewCheckpointID()
	cp.CreatedAt = m.clock.Now().UTC()

	sum, err := checkpointChecksum(&cp)
	if err != nil {
		return nil, errors.NewInternalError("failed to checksum checkpoint").WithCause(err)
	}
	cp.Checksum = sum

	if err := m.checkpoints.SaveCheckpoint(ctx, &cp); err != nil {
		if m.metrics != nil {
			m.metrics.RecordError("jobstate_manager", "checkpoint_save")
		}
		return nil, errors.NewInternalError("failed to persist checkpoint").WithCause(err)
	}

	m.touchExecutionProgress(ctx, &cp)

	if m.metrics != nil {
		m.metrics.RecordCheckpoint(cp.JobID, string(cp.State))
	}
	m.logger.LogJobEvent(ctx, "checkpoint_created", cp.JobID, logging.Fields{
		"checkpoint_id": cp.ID,
		"step_name":     cp.StepName,
		"step_number":   cp.StepNumber,
		"state":         cp.State,
	})

	if m.ledger != nil {
		_, err := m.ledger.Append(ctx, audit.Event{
			EventType:  audit.EventTypeCheckpointCreated,
			EntityID:   cp.ID,
			EntityType: "CHECKPOINT",
			Actor:      "jobstate_manager",
			Action:     "CREATE_CHECKPOINT",
			Outcome:    audit.OutcomeSuccess,
			Details: map[string]interface{}{
				"job_id":         cp.JobID,
				"execution_id":   cp.ExecutionID,
				"step_name":      cp.StepName,
				"step_number":    cp.StepNumber,
				"data_processed": cp.DataProcessed,
				"total_data":     cp.TotalData,
				"state":          string(cp.State),
			},
			Chain: ChainJobs,
		})
		if err != nil {
			return &cp, err
		}
	}

	return &cp, nil
}

// touchExecutionProgress stamps the owning execution with the checkpoint
// time so stall detection sees progress. Best effort.
func (m *Manager) touchExecutionProgress(ctx context.Context, cp *Checkpoint) {
	if cp.ExecutionID == "" {
		return
	}
	exec, err := m.executions.LatestExecution(ctx, cp.JobID)
	if err != nil || exec == nil || exec.ID != cp.ExecutionID {
		return
	}
	exec.LastCheckpointAt = cp.CreatedAt
	if err := m.executions.SaveExecution(ctx, exec); err != nil {
		m.logger.WithComponent("jobstate_manager").WithError(err).Warn("failed to stamp checkpoint progress")
	}
}

// StartExecution opens a new RUNNING execution record for the job.
func (m *Manager) StartExecution(ctx context.Context, jobID string) (*JobExecution, error) {
	if jobID == "" {
		return nil, errors.NewValidationError("job ID is required")
	}

	exec := &JobExecution{
		ID:             security.NewExecutionID(),
		JobID:          jobID,
		Status:         ExecutionRunning,
		StartTime:      m.clock.Now().UTC(),
		IntegrityScore: 1.0,
	}
	if err := m.executions.SaveExecution(ctx, exec); err != nil {
		return nil, errors.NewInternalError("failed to persist execution").WithCause(err)
	}

	m.logger.LogJobEvent(ctx, "execution_started", jobID, logging.Fields{"execution_id": exec.ID})
	return exec, nil
}

// UpdateProgress overwrites the running totals on the job's latest
// execution.
func (m *Manager) UpdateProgress(ctx context.Context, jobID string, processed, failed int64, avgProcessing time.Duration, integrity float64) error {
	exec, err := m.executions.LatestExecution(ctx, jobID)
	if err != nil {
		return errors.NewInternalError("failed to load execution").WithCause(err)
	}
	if exec == nil {
		return errors.NewNotFoundError("job execution")
	}
	if exec.Status != ExecutionRunning {
		return errors.NewConflictError(fmt.Sprintf("execution %s is %s, not RUNNING", exec.ID, exec.Status))
	}

	exec.ItemsProcessed = processed
	exec.ItemsFailed = failed
	exec.AvgProcessing = avgProcessing
	exec.IntegrityScore = integrity
	if err := m.executions.SaveExecution(ctx, exec); err != nil {
		return errors.NewInternalError("failed to persist execution").WithCause(err)
	}
	return nil
}

// FinishExecution closes the job's latest execution with the given status.
func (m *Manager) FinishExecution(ctx context.Context, jobID string, status ExecutionStatus) error {
	exec, err := m.executions.LatestExecution(ctx, jobID)
	if err != nil {
		return errors.NewInternalError("failed to load execution").WithCause(err)
	}
	if exec == nil {
		return errors.NewNotFoundError("job execution")
	}

	exec.Status = status
	exec.EndTime = m.clock.Now().UTC()
	if err := m.executions.SaveExecution(ctx, exec); err != nil {
		return errors.NewInternalError("failed to persist execution").WithCause(err)
	}

	m.logger.LogJobEvent(ctx, "execution_finished", jobID, logging.Fields{
		"execution_id": exec.ID,
		"status":       status,
	})
	return nil
}

// computeHealth rebuilds the health snapshot from the latest execution.
// It emits nothing; CheckHealth wraps it with the gauge and alerting.
func (m *Manager) computeHealth(ctx context.Context, jobID string) (*JobHealthStatus, *JobExecution, error) {
	exec, err := m.executions.LatestExecution(ctx, jobID)
	if err != nil {
		return nil, nil, errors.NewInternalError("failed to load execution").WithCause(err)
	}

	now := m.clock.Now().UTC()
	health := &JobHealthStatus{JobID: jobID, CheckedAt: now}

	if exec == nil {
		health.Status = HealthFailed
		health.RiskLevel = RiskCritical
		health.Recommendations = []string{"no execution record found; start or restart the job"}
		return health, nil, nil
	}

	health.FailureRate = exec.FailureRate()
	health.AvgProcessing = exec.AvgProcessing
	health.DataIntegrity = exec.IntegrityScore

	status := HealthHealthy
	var recs []string

	switch {
	case health.FailureRate > m.config.MaxFailureRate:
		status = HealthCritical
		recs = append(recs, fmt.Sprintf("failure rate %.2f%% exceeds the %.2f%% limit; inspect recent errors and dead letters",
			health.FailureRate*100, m.config.MaxFailureRate*100))
	case health.FailureRate > m.config.MaxFailureRate/2:
		status = HealthWarning
		recs = append(recs, fmt.Sprintf("failure rate %.2f%% is approaching the %.2f%% limit",
			health.FailureRate*100, m.config.MaxFailureRate*100))
	}

	if health.AvgProcessing > m.config.MaxProcessingTime {
		if status == HealthHealthy {
			status = HealthWarning
		}
		recs = append(recs, fmt.Sprintf("average processing time %s exceeds the %s ceiling; reduce batch sizes or scale out",
			health.AvgProcessing, m.config.MaxProcessingTime))
	}

	integrityBreach := health.DataIntegrity < m.config.MinDataIntegrity
	if integrityBreach {
		status = HealthCritical
		recs = append(recs, fmt.Sprintf("data integrity %.2f%% is below the %.2f%% minimum; verify sources and run chain verification",
			health.DataIntegrity*100, m.config.MinDataIntegrity*100))
	}

	if exec.Status == ExecutionRunning {
		progress := exec.LastCheckpointAt
		if progress.IsZero() {
			progress = exec.StartTime
		}
		if now.Sub(progress) > m.config.StalledAfter {
			if status == HealthHealthy {
				status = HealthWarning
			}
			recs = append(recs, fmt.Sprintf("no checkpoint progress for %s; the job appears stalled", now.Sub(progress)))
		}
	}

	health.Status = status
	health.RiskLevel = riskFor(status, integrityBreach)
	health.Recommendations = recs
	return health, exec, nil
}

func riskFor(status HealthState, integrityBreach bool) RiskLevel {
	switch status {
	case HealthFailed:
		return RiskCritical
	case HealthCritical:
		if integrityBreach {
			return RiskCritical
		}
		return RiskHigh
	case HealthWarning:
		return RiskMedium
	default:
		return RiskLow
	}
}

func healthGaugeValue(status HealthState) float64 {
	switch status {
	case HealthHealthy:
		return 0
	case HealthWarning:
		return 1
	case HealthCritical:
		return 2
	default:
		return 3
	}
}

// CheckHealth recomputes the job's health snapshot, updates the health
// gauge, and raises or refreshes the job's health alert when degraded.
func (m *Manager) CheckHealth(ctx context.Context, jobID string) (*JobHealthStatus, error) {
	health, _, err := m.computeHealth(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.UpdateJobHealth(jobID, healthGaugeValue(health.Status))
	}
	m.logger.LogJobEvent(ctx, "health_checked", jobID, logging.Fields{
		"status":         health.Status,
		"failure_rate":   health.FailureRate,
		"data_integrity": health.DataIntegrity,
		"risk_level":     health.RiskLevel,
	})

	if m.alerts != nil && health.Status != HealthHealthy {
		severity := alerting.SeverityWarning
		if health.Status == HealthCritical || health.Status == HealthFailed {
			severity = alerting.SeverityCritical
		}
		alertErr := m.alerts.TriggerAlert(ctx, &alerting.Alert{
			ID:          fmt.Sprintf("job-health-%s", jobID),
			Title:       "Job Health Degraded",
			Description: fmt.Sprintf("job %s is %s (failure rate %.2f%%, integrity %.2f%%)", jobID, health.Status, health.FailureRate*100, health.DataIntegrity*100),
			Severity:    severity,
			Component:   "jobstate_manager",
			Labels:      map[string]string{"job_id": jobID, "status": string(health.Status)},
		})
		if alertErr != nil {
			m.logger.WithComponent("jobstate_manager").WithError(alertErr).Warn("failed to raise job health alert")
		}
	}

	return health, nil
}

// PredictFailure scores the job's failure risk from weighted heuristics.
// It returns nil below the configured risk floor so low-risk noise never
// alarms; real predictions are cached per job, latest wins.
func (m *Manager) PredictFailure(ctx context.Context, jobID string) (*FailurePrediction, error) {
	health, exec, err := m.computeHealth(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, errors.NewNotFoundError("job execution")
	}

	score := 0
	category := CategoryUnknown
	topWeight := 0

	apply := func(weight int, cat FailureCategory) {
		score += weight
		if weight > topWeight {
			topWeight = weight
			category = cat
		}
	}

	if health.FailureRate > m.config.PredictionFailureRate {
		apply(m.config.PredictionFailureWeight, CategoryBusinessLogic)
	}
	if health.AvgProcessing > m.config.PredictionProcessingTime {
		apply(m.config.PredictionProcessingWeight, CategoryMemory)
	}
	if health.DataIntegrity < m.config.PredictionIntegrity {
		apply(m.config.PredictionIntegrityWeight, CategoryDatabase)
	}
	if score == 0 {
		score = riskBaseline(health.RiskLevel)
	}
	if score > 100 {
		score = 100
	}

	if score < m.config.RiskFloor {
		return nil, nil
	}

	prediction := &FailurePrediction{
		JobID:             jobID,
		RiskScore:         score,
		Category:          category,
		Confidence:        0.3 + 0.65*float64(score)/100,
		TimeToFailure:     timeToFailure(score),
		PreventionActions: preventionActions(category),
		PredictedAt:       m.clock.Now().UTC(),
	}

	m.mu.Lock()
	m.predictions[jobID] = prediction
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordFailurePrediction(string(category), riskBand(score))
	}
	m.logger.LogJobEvent(ctx, "failure_predicted", jobID, logging.Fields{
		"risk_score": score,
		"category":   category,
		"confidence": prediction.Confidence,
	})
	return prediction, nil
}

// LatestPrediction returns the cached prediction for the job, or nil.
func (m *Manager) LatestPrediction(jobID string) *FailurePrediction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.predictions[jobID]; ok {
		copied := *p
		return &copied
	}
	return nil
}

func riskBaseline(risk RiskLevel) int {
	switch risk {
	case RiskCritical:
		return 60
	case RiskHigh:
		return 40
	case RiskMedium:
		return 20
	default:
		return 10
	}
}

func riskBand(score int) string {
	switch {
	case score >= 75:
		return "critical"
	case score >= 50:
		return "high"
	default:
		return "moderate"
	}
}

func timeToFailure(score int) time.Duration {
	switch {
	case score >= 90:
		return 15 * time.Minute
	case score >= 75:
		return 30 * time.Minute
	case score >= 50:
		return 45 * time.Minute
	default:
		return 60 * time.Minute
	}
}

func preventionActions(category FailureCategory) []string {
	switch category {
	case CategoryBusinessLogic:
		return []string{"review recent processing errors and dead-lettered payloads", "validate upstream input data"}
	case CategoryMemory:
		return []string{"reduce batch sizes", "increase memory allocation or scale out"}
	case CategoryDatabase:
		return []string{"check database connectivity and pool saturation", "verify source data integrity"}
	case CategoryNetwork:
		return []string{"confirm downstream endpoints are reachable", "review recent timeout rates"}
	default:
		return []string{"increase monitoring frequency until the risk source is identified"}
	}
}

// GenerateRecoveryStrategy synthesizes a recovery path from current health
// and the latest completed checkpoint. Healthy jobs yield nil. Generation
// is audited; an audit write failure fails the call.
func (m *Manager) GenerateRecoveryStrategy(ctx context.Context, jobID string) (*RecoveryStrategy, error) {
	health, _, err := m.computeHealth(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if health.Status == HealthHealthy {
		return nil, nil
	}

	cp, err := m.checkpoints.LatestCompleted(ctx, jobID)
	if err != nil {
		return nil, errors.NewInternalError("failed to load checkpoints").WithCause(err)
	}

	var strategy *RecoveryStrategy
	switch health.Status {
	case HealthFailed:
		if cp != nil {
			strategy = m.buildStrategy(jobID, StrategyRestartFromCheckpoint, RiskLow, cp)
		} else {
			strategy = m.buildStrategy(jobID, StrategyFullRestart, RiskHigh, nil)
		}
	case HealthCritical:
		if cp != nil {
			strategy = m.buildStrategy(jobID, StrategyRestartFromCheckpoint, RiskMedium, cp)
		} else {
			strategy = m.buildStrategy(jobID, StrategyManualIntervention, RiskHigh, nil)
		}
	default:
		strategy = m.buildStrategy(jobID, StrategyBreakerBypass, RiskLow, nil)
	}

	if prediction := m.LatestPrediction(jobID); prediction != nil {
		strategy.Preconditions = append(strategy.Preconditions, categoryPreconditions(prediction.Category)...)
	}

	if m.ledger != nil {
		_, err := m.ledger.Append(ctx, audit.Event{
			EventType:  audit.EventTypeRecoveryStrategy,
			EntityID:   jobID,
			EntityType: "JOB",
			Actor:      "jobstate_manager",
			Action:     string(strategy.Type),
			Outcome:    audit.OutcomeSuccess,
			Details: map[string]interface{}{
				"risk_level":     string(strategy.RiskLevel),
				"health_status":  string(health.Status),
				"checkpoint_ids": strategy.CheckpointIDs,
			},
			Chain: ChainJobs,
		})
		if err != nil {
			return nil, err
		}
	}

	m.logger.LogJobEvent(ctx, "recovery_strategy_generated", jobID, logging.Fields{
		"strategy":   strategy.Type,
		"risk_level": strategy.RiskLevel,
	})
	return strategy, nil
}

func (m *Manager) buildStrategy(jobID string, t StrategyType, risk RiskLevel, cp *Checkpoint) *RecoveryStrategy {
	strategy := &RecoveryStrategy{
		JobID:       jobID,
		Type:        t,
		RiskLevel:   risk,
		GeneratedAt: m.clock.Now().UTC(),
	}

	switch t {
	case StrategyRestartFromCheckpoint:
		strategy.CheckpointIDs = []string{cp.ID}
		strategy.EstimatedRecovery = 10 * time.Minute
		strategy.Steps = []string{
			"verify checkpoint integrity",
			fmt.Sprintf("restore state from checkpoint %s", cp.ID),
			fmt.Sprintf("resume processing from step %d", cp.StepNumber),
		}
	case StrategyFullRestart:
		strategy.EstimatedRecovery = 30 * time.Minute
		strategy.Steps = []string{
			"stop any residual processing",
			"discard intermediate state",
			"restart the job from the beginning",
		}
	case StrategyManualIntervention:
		strategy.EstimatedRecovery = 60 * time.Minute
		strategy.Steps = []string{
			"page the on-call operator",
			"collect job diagnostics and recent audit entries",
			"await operator decision",
		}
	case StrategyBreakerBypass:
		strategy.EstimatedRecovery = 5 * time.Minute
		strategy.Steps = []string{
			"reset the job's circuit breaker",
			"re-enable dispatch",
			"monitor the error rate for regression",
		}
	}
	return strategy
}

func categoryPreconditions(category FailureCategory) []string {
	switch category {
	case CategoryMemory:
		return []string{"confirm memory headroom before resuming"}
	case CategoryDatabase:
		return []string{"verify database connectivity and connection pool capacity"}
	case CategoryNetwork:
		return []string{"confirm downstream endpoints are reachable"}
	default:
		return nil
	}
}

// ExecuteRecoveryStrategy runs the strategy's executor. Infrastructure
// faults (store or ledger failures) return errors; a strategy that ran but
// could not recover returns Success false with a nil error.
// MANUAL_INTERVENTION never succeeds and only audits the requirement.
func (m *Manager) ExecuteRecoveryStrategy(ctx context.Context, strategy *RecoveryStrategy) (*RecoveryResult, error) {
	if strategy == nil {
		return nil, errors.NewValidationError("recovery strategy is required")
	}
	switch strategy.Type {
	case StrategyRestartFromCheckpoint, StrategyFullRestart, StrategyManualIntervention, StrategyBreakerBypass:
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unknown recovery strategy: %s", strategy.Type))
	}

	started := m.clock.Now().UTC()
	result := &RecoveryResult{
		JobID:     strategy.JobID,
		Strategy:  strategy.Type,
		StartedAt: started,
	}

	if strategy.Type == StrategyManualIntervention {
		result.Message = "manual intervention required; automatic recovery is not permitted for this strategy"
		if m.metrics != nil {
			m.metrics.RecordRecoveryExecution(string(strategy.Type), "manual_required")
		}
		if m.ledger != nil {
			_, err := m.ledger.Append(ctx, audit.Event{
				EventType:  audit.EventTypeRecoveryExecution,
				EntityID:   strategy.JobID,
				EntityType: "JOB",
				Actor:      "jobstate_manager",
				Action:     string(strategy.Type),
				Outcome:    audit.OutcomeWarning,
				Details:    map[string]interface{}{"requirement": result.Message},
				Chain:      ChainJobs,
			})
			if err != nil {
				return result, err
			}
		}
		return result, nil
	}

	if err := m.auditExecutionPhase(ctx, strategy, "started", audit.OutcomeSuccess, nil); err != nil {
		return nil, err
	}

	var execErr error
	switch strategy.Type {
	case StrategyRestartFromCheckpoint:
		execErr = m.executeCheckpointRestart(ctx, strategy, result)
	case StrategyFullRestart:
		execErr = m.executeFullRestart(ctx, strategy, result)
	case StrategyBreakerBypass:
		execErr = m.executeBreakerBypass(ctx, strategy, result)
	}
	if execErr != nil {
		return nil, execErr
	}

	result.Duration = m.clock.Now().UTC().Sub(started)

	outcome := audit.OutcomeSuccess
	status := "success"
	if !result.Success {
		outcome = audit.OutcomeFailure
		status = "failure"
	}
	if m.metrics != nil {
		m.metrics.RecordRecoveryExecution(string(strategy.Type), status)
	}
	m.logger.LogJobEvent(ctx, "recovery_executed", strategy.JobID, logging.Fields{
		"strategy": strategy.Type,
		"success":  result.Success,
		"message":  result.Message,
	})

	if err := m.auditExecutionPhase(ctx, strategy, "completed", outcome, result); err != nil {
		return result, err
	}
	return result, nil
}

func (m *Manager) auditExecutionPhase(ctx context.Context, strategy *RecoveryStrategy, phase string, outcome audit.Outcome, result *RecoveryResult) error {
	if m.ledger == nil {
		return nil
	}
	details := map[string]interface{}{
		"phase":      phase,
		"risk_level": string(strategy.RiskLevel),
	}
	if result != nil {
		details["success"] = result.Success
		details["message"] = result.Message
		if result.ExecutionID != "" {
			details["execution_id"] = result.ExecutionID
		}
	}
	_, err := m.ledger.Append(ctx, audit.Event{
		EventType:  audit.EventTypeRecoveryExecution,
		EntityID:   strategy.JobID,
		EntityType: "JOB",
		Actor:      "jobstate_manager",
		Action:     string(strategy.Type),
		Outcome:    outcome,
		Details:    details,
		Chain:      ChainJobs,
	})
	return err
}

func (m *Manager) executeCheckpointRestart(ctx context.Context, strategy *RecoveryStrategy, result *RecoveryResult) error {
	cp, err := m.checkpoints.LatestCompleted(ctx, strategy.JobID)
	if err != nil {
		return errors.NewInternalError("failed to load checkpoints").WithCause(err)
	}
	if cp == nil {
		result.Message = "no completed checkpoint available"
		return nil
	}
	if !VerifyCheckpoint(cp) {
		result.Message = fmt.Sprintf("checkpoint %s failed checksum verification", cp.ID)
		if m.alerts != nil {
			_ = m.alerts.TriggerAlert(ctx, &alerting.Alert{
				Title:       "Checkpoint Integrity Failure",
				Description: result.Message,
				Severity:    alerting.SeverityCritical,
				Component:   "jobstate_manager",
				Labels:      map[string]string{"job_id": strategy.JobID, "checkpoint_id": cp.ID},
			})
		}
		return nil
	}

	if err := m.stopRunningExecution(ctx, strategy.JobID); err != nil {
		return err
	}
	exec, err := m.StartExecution(ctx, strategy.JobID)
	if err != nil {
		return err
	}

	result.Success = true
	result.ExecutionID = exec.ID
	result.Message = fmt.Sprintf("resumed from checkpoint %s at step %d", cp.ID, cp.StepNumber)
	return nil
}

func (m *Manager) executeFullRestart(ctx context.Context, strategy *RecoveryStrategy, result *RecoveryResult) error {
	if err := m.stopRunningExecution(ctx, strategy.JobID); err != nil {
		return err
	}
	exec, err := m.StartExecution(ctx, strategy.JobID)
	if err != nil {
		return err
	}

	result.Success = true
	result.ExecutionID = exec.ID
	result.Message = "restarted from the beginning"
	return nil
}

func (m *Manager) executeBreakerBypass(ctx context.Context, strategy *RecoveryStrategy, result *RecoveryResult) error {
	if m.breakers == nil {
		result.Message = "no breaker registry wired"
		return nil
	}

	m.mu.Lock()
	service, ok := m.services[strategy.JobID]
	m.mu.Unlock()
	if !ok {
		service = strategy.JobID
	}

	m.breakers.Reset(ctx, service)
	result.Success = true
	result.Message = fmt.Sprintf("circuit breaker %s reset", service)
	return nil
}

func (m *Manager) stopRunningExecution(ctx context.Context, jobID string) error {
	exec, err := m.executions.LatestExecution(ctx, jobID)
	if err != nil {
		return errors.NewInternalError("failed to load execution").WithCause(err)
	}
	if exec == nil || exec.Status != ExecutionRunning {
		return nil
	}
	exec.Status = ExecutionStopped
	exec.EndTime = m.clock.Now().UTC()
	if err := m.executions.SaveExecution(ctx, exec); err != nil {
		return errors.NewInternalError("failed to persist execution").WithCause(err)
	}
	return nil
}
