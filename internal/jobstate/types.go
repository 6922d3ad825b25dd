package jobstate

import (
	"context"
	"sort"
	"sync"
	"time"
)

// CheckpointState marks where a checkpoint sits in a step lifecycle.
type CheckpointState string

const (
	CheckpointStarted   CheckpointState = "STARTED"
	CheckpointCompleted CheckpointState = "COMPLETED"
	CheckpointFailed    CheckpointState = "FAILED"
	CheckpointPartial   CheckpointState = "PARTIAL"
)

// Checkpoint is an immutable progress marker written at step boundaries.
// The checksum covers every other field; recovery always resumes from the
// most recent COMPLETED checkpoint.
type Checkpoint struct {
	ID            string          `json:"id"`
	JobID         string          `json:"job_id"`
	ExecutionID   string          `json:"execution_id"`
	StepName      string          `json:"step_name"`
	StepNumber    int             `json:"step_number"`
	DataProcessed int64           `json:"data_processed"`
	TotalData     int64           `json:"total_data"`
	State         CheckpointState `json:"state"`
	Checksum      string          `json:"checksum"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ExecutionStatus is the lifecycle state of one job run.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionStopped   ExecutionStatus = "STOPPED"
)

// JobExecution tracks one run of a job: counts, timings, and the data
// integrity the run has maintained so far. Health checks read the latest
// execution; a job with no execution record at all is considered failed.
type JobExecution struct {
	ID               string          `json:"id"`
	JobID            string          `json:"job_id"`
	Status           ExecutionStatus `json:"status"`
	StartTime        time.Time       `json:"start_time"`
	EndTime          time.Time       `json:"end_time,omitempty"`
	ItemsProcessed   int64           `json:"items_processed"`
	ItemsFailed      int64           `json:"items_failed"`
	AvgProcessing    time.Duration   `json:"avg_processing"`
	IntegrityScore   float64         `json:"integrity_score"`
	LastCheckpointAt time.Time       `json:"last_checkpoint_at,omitempty"`
}

// FailureRate returns failed / (processed + failed), zero when idle.
func (e *JobExecution) FailureRate() float64 {
	total := e.ItemsProcessed + e.ItemsFailed
	if total == 0 {
		return 0
	}
	return float64(e.ItemsFailed) / float64(total)
}

// HealthState is the recomputed-per-tick job health classification.
type HealthState string

const (
	HealthHealthy  HealthState = "HEALTHY"
	HealthWarning  HealthState = "WARNING"
	HealthCritical HealthState = "CRITICAL"
	HealthFailed   HealthState = "FAILED"
)

// RiskLevel grades health snapshots and recovery strategies.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// JobHealthStatus is a transient snapshot. It is emitted as a gauge and
// alert, never persisted.
type JobHealthStatus struct {
	JobID           string        `json:"job_id"`
	Status          HealthState   `json:"status"`
	FailureRate     float64       `json:"failure_rate"`
	AvgProcessing   time.Duration `json:"avg_processing"`
	DataIntegrity   float64       `json:"data_integrity"`
	RiskLevel       RiskLevel     `json:"risk_level"`
	Recommendations []string      `json:"recommendations,omitempty"`
	CheckedAt       time.Time     `json:"checked_at"`
}

// FailureCategory tags the dominant factor behind a prediction.
type FailureCategory string

const (
	CategoryBusinessLogic FailureCategory = "BUSINESS_LOGIC"
	CategoryMemory        FailureCategory = "MEMORY"
	CategoryDatabase      FailureCategory = "DATABASE"
	CategoryNetwork       FailureCategory = "NETWORK"
	CategoryUnknown       FailureCategory = "UNKNOWN"
)

// FailurePrediction is a transient heuristic risk estimate. The latest
// prediction per job is cached; nothing below the risk floor is emitted.
type FailurePrediction struct {
	JobID             string          `json:"job_id"`
	RiskScore         int             `json:"risk_score"`
	Category          FailureCategory `json:"category"`
	Confidence        float64         `json:"confidence"`
	TimeToFailure     time.Duration   `json:"time_to_failure"`
	PreventionActions []string        `json:"prevention_actions,omitempty"`
	PredictedAt       time.Time       `json:"predicted_at"`
}

// StrategyType names a recovery path.
type StrategyType string

const (
	StrategyRestartFromCheckpoint StrategyType = "RESTART_FROM_CHECKPOINT"
	StrategyFullRestart           StrategyType = "FULL_RESTART"
	StrategyManualIntervention    StrategyType = "MANUAL_INTERVENTION"
	StrategyBreakerBypass         StrategyType = "CIRCUIT_BREAKER_BYPASS"
)

// RecoveryStrategy is generated on demand from current health plus the
// latest checkpoint. Executing it is audited; the object itself is not
// persisted.
type RecoveryStrategy struct {
	JobID             string        `json:"job_id"`
	Type              StrategyType  `json:"type"`
	CheckpointIDs     []string      `json:"checkpoint_ids,omitempty"`
	EstimatedRecovery time.Duration `json:"estimated_recovery"`
	RiskLevel         RiskLevel     `json:"risk_level"`
	Preconditions     []string      `json:"preconditions,omitempty"`
	Steps             []string      `json:"steps"`
	GeneratedAt       time.Time     `json:"generated_at"`
}

// RecoveryResult reports one strategy execution.
type RecoveryResult struct {
	JobID       string        `json:"job_id"`
	Strategy    StrategyType  `json:"strategy"`
	Success     bool          `json:"success"`
	Message     string        `json:"message"`
	ExecutionID string        `json:"execution_id,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// CheckpointStore persists checkpoints. Saves are append-only.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	// LatestCompleted returns the most recent COMPLETED checkpoint for the
	// job, or nil when none exists.
	LatestCompleted(ctx context.Context, jobID string) (*Checkpoint, error)
	// ListCheckpoints returns the job's checkpoints oldest first.
	ListCheckpoints(ctx context.Context, jobID string) ([]*Checkpoint, error)
}

// ExecutionStore persists job executions, upserted by execution ID.
type ExecutionStore interface {
	SaveExecution(ctx context.Context, exec *JobExecution) error
	// LatestExecution returns the most recently started execution for the
	// job, or nil when the job has never run.
	LatestExecution(ctx context.Context, jobID string) (*JobExecution, error)
	// ListExecutions returns the job's executions oldest first.
	ListExecutions(ctx context.Context, jobID string) ([]*JobExecution, error)
}

// MemoryCheckpointStore keeps checkpoints in process, for tests and
// library users without Postgres.
type MemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string][]*Checkpoint
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{checkpoints: make(map[string][]*Checkpoint)}
}

func (s *MemoryCheckpointStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *cp
	s.checkpoints[cp.JobID] = append(s.checkpoints[cp.JobID], &copied)
	return nil
}

func (s *MemoryCheckpointStore) LatestCompleted(ctx context.Context, jobID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.checkpoints[jobID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].State == CheckpointCompleted {
			copied := *list[i]
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryCheckpointStore) ListCheckpoints(ctx context.Context, jobID string) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.checkpoints[jobID]
	out := make([]*Checkpoint, 0, len(list))
	for _, cp := range list {
		copied := *cp
		out = append(out, &copied)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MemoryExecutionStore keeps executions in process.
type MemoryExecutionStore struct {
	mu         sync.RWMutex
	executions map[string][]*JobExecution
}

func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{executions: make(map[string][]*JobExecution)}
}

func (s *MemoryExecutionStore) SaveExecution(ctx context.Context, exec *JobExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *exec
	list := s.executions[exec.JobID]
	for i, existing := range list {
		if existing.ID == exec.ID {
			list[i] = &copied
			return nil
		}
	}
	s.executions[exec.JobID] = append(list, &copied)
	return nil
}

func (s *MemoryExecutionStore) LatestExecution(ctx context.Context, jobID string) (*JobExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.executions[jobID]
	if len(list) == 0 {
		return nil, nil
	}
	latest := list[0]
	for _, exec := range list[1:] {
		// Ties go to the most recently saved execution.
		if !exec.StartTime.Before(latest.StartTime) {
			latest = exec
		}
	}
	copied := *latest
	return &copied, nil
}

func (s *MemoryExecutionStore) ListExecutions(ctx context.Context, jobID string) ([]*JobExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.executions[jobID]
	out := make([]*JobExecution, 0, len(list))
	for _, exec := range list {
		copied := *exec
		out = append(out, &copied)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}
