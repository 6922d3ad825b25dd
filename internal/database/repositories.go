package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/flowledger/flowledger/internal/audit"
	"github.com/flowledger/flowledger/internal/jobstate"
	"github.com/flowledger/flowledger/internal/telemetry"
	"github.com/flowledger/flowledger/pkg/errors"
	"github.com/flowledger/flowledger/pkg/resilience"
)

// AuditEntryRepository is the durable audit.Store. Rows are append-only;
// seq is assigned by the database and fixes chain order even when entries
// share a timestamp.
type AuditEntryRepository struct {
	db *DB
}

// NewAuditEntryRepository creates a new audit entry repository
func NewAuditEntryRepository(db *DB) *AuditEntryRepository {
	return &AuditEntryRepository{db: db}
}

type auditEntryRow struct {
	Seq          int64           `db:"seq"`
	ID           string          `db:"id"`
	Timestamp    time.Time       `db:"ts"`
	EventType    string          `db:"event_type"`
	EntityID     string          `db:"entity_id"`
	EntityType   string          `db:"entity_type"`
	Actor        string          `db:"actor"`
	Action       string          `db:"action"`
	Resource     string          `db:"resource"`
	Outcome      string          `db:"outcome"`
	Details      json.RawMessage `db:"details"`
	Signature    string          `db:"signature"`
	PreviousHash string          `db:"previous_hash"`
	ChainHash    string          `db:"chain_hash"`
	Chain        string          `db:"chain"`
}

func newAuditEntryRow(entry *audit.Entry) (*auditEntryRow, error) {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode entry details").WithCause(err)
	}
	return &auditEntryRow{
		ID:           entry.ID,
		Timestamp:    entry.Timestamp.UTC(),
		EventType:    entry.EventType,
		EntityID:     entry.EntityID,
		EntityType:   entry.EntityType,
		Actor:        entry.Actor,
		Action:       entry.Action,
		Resource:     entry.Resource,
		Outcome:      string(entry.Outcome),
		Details:      details,
		Signature:    entry.Signature,
		PreviousHash: entry.PreviousHash,
		ChainHash:    entry.ChainHash,
		Chain:        entry.Chain,
	}, nil
}

func (r *auditEntryRow) toEntry() (*audit.Entry, error) {
	var details map[string]interface{}
	if len(r.Details) > 0 {
		if err := json.Unmarshal(r.Details, &details); err != nil {
			return nil, errors.NewInternalError("failed to decode entry details").WithCause(err)
		}
	}
	return &audit.Entry{
		ID:           r.ID,
		Timestamp:    r.Timestamp.UTC(),
		EventType:    r.EventType,
		EntityID:     r.EntityID,
		EntityType:   r.EntityType,
		Actor:        r.Actor,
		Action:       r.Action,
		Resource:     r.Resource,
		Outcome:      audit.Outcome(r.Outcome),
		Details:      details,
		Signature:    r.Signature,
		PreviousHash: r.PreviousHash,
		ChainHash:    r.ChainHash,
		Chain:        r.Chain,
	}, nil
}

// AppendEntry persists one fully formed ledger entry.
func (r *AuditEntryRepository) AppendEntry(ctx context.Context, entry *audit.Entry) error {
	row, err := newAuditEntryRow(entry)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_entries (
			id, ts, event_type, entity_id, entity_type, actor, action,
			resource, outcome, details, signature, previous_hash, chain_hash, chain
		) VALUES (
			:id, :ts, :event_type, :entity_id, :entity_type, :actor, :action,
			:resource, :outcome, :details, :signature, :previous_hash, :chain_hash, :chain
		)`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return errors.NewInternalError("failed to append audit entry").WithCause(err)
	}
	return nil
}

// LatestEntry returns the chain head, or nil when the chain is empty.
func (r *AuditEntryRepository) LatestEntry(ctx context.Context, chain string) (*audit.Entry, error) {
	var row auditEntryRow
	query := `SELECT * FROM audit_entries WHERE chain = $1 ORDER BY seq DESC LIMIT 1`

	err := r.db.GetContext(ctx, &row, query, chain)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.NewInternalError("failed to load latest audit entry").WithCause(err)
	}
	return row.toEntry()
}

// ListEntries returns entries matching the query, oldest first.
func (r *AuditEntryRepository) ListEntries(ctx context.Context, query audit.EntryQuery) ([]*audit.Entry, error) {
	sqlQuery, args := buildEntryListQuery(query)

	var rows []auditEntryRow
	if err := r.db.SelectContext(ctx, &rows, sqlQuery, args...); err != nil {
		return nil, errors.NewInternalError("failed to list audit entries").WithCause(err)
	}

	entries := make([]*audit.Entry, 0, len(rows))
	for i := range rows {
		entry, err := rows[i].toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// buildEntryListQuery assembles the filtered SELECT with numbered args.
// Zero-value filters are skipped; From/To are inclusive bounds.
func buildEntryListQuery(q audit.EntryQuery) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(clause string, v interface{}) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if q.Chain != "" {
		add("chain = $%d", q.Chain)
	}
	if q.EventType != "" {
		add("event_type = $%d", q.EventType)
	}
	if q.Outcome != "" {
		add("outcome = $%d", string(q.Outcome))
	}
	if !q.From.IsZero() {
		add("ts >= $%d", q.From.UTC())
	}
	if !q.To.IsZero() {
		add("ts <= $%d", q.To.UTC())
	}

	query := `SELECT * FROM audit_entries`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY ts, seq"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

// BreakerStateRepository persists circuit breaker snapshots, upserted by
// service name.
type BreakerStateRepository struct {
	db *DB
}

// NewBreakerStateRepository creates a new breaker state repository
func NewBreakerStateRepository(db *DB) *BreakerStateRepository {
	return &BreakerStateRepository{db: db}
}

// Save upserts one breaker snapshot.
func (r *BreakerStateRepository) Save(ctx context.Context, snapshot resilience.StateSnapshot) error {
	query := `
		INSERT INTO breaker_states (
			service, state, failure_count, success_count, last_failure_time, updated_at
		) VALUES (
			:service, :state, :failure_count, :success_count, :last_failure_time, :updated_at
		)
		ON CONFLICT (service) DO UPDATE SET
			state = EXCLUDED.state,
			failure_count = EXCLUDED.failure_count,
			success_count = EXCLUDED.success_count,
			last_failure_time = EXCLUDED.last_failure_time,
			updated_at = EXCLUDED.updated_at`

	if _, err := r.db.NamedExecContext(ctx, query, snapshot); err != nil {
		return errors.NewInternalError("failed to save breaker state").WithCause(err)
	}
	return nil
}

// Load returns every persisted breaker snapshot.
func (r *BreakerStateRepository) Load(ctx context.Context) ([]resilience.StateSnapshot, error) {
	var snapshots []resilience.StateSnapshot
	query := `SELECT * FROM breaker_states ORDER BY service`

	if err := r.db.SelectContext(ctx, &snapshots, query); err != nil {
		return nil, errors.NewInternalError("failed to load breaker states").WithCause(err)
	}
	return snapshots, nil
}

// CheckpointRepository is the durable jobstate.CheckpointStore. Checkpoints
// are immutable once written.
type CheckpointRepository struct {
	db *DB
}

// NewCheckpointRepository creates a new checkpoint repository
func NewCheckpointRepository(db *DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

type checkpointRow struct {
	Seq           int64     `db:"seq"`
	ID            string    `db:"id"`
	JobID         string    `db:"job_id"`
	ExecutionID   string    `db:"execution_id"`
	StepName      string    `db:"step_name"`
	StepNumber    int       `db:"step_number"`
	DataProcessed int64     `db:"data_processed"`
	TotalData     int64     `db:"total_data"`
	State         string    `db:"state"`
	Checksum      string    `db:"checksum"`
	CreatedAt     time.Time `db:"created_at"`
}

func newCheckpointRow(cp *jobstate.Checkpoint) *checkpointRow {
	return &checkpointRow{
		ID:            cp.ID,
		JobID:         cp.JobID,
		ExecutionID:   cp.ExecutionID,
		StepName:      cp.StepName,
		StepNumber:    cp.StepNumber,
		DataProcessed: cp.DataProcessed,
		TotalData:     cp.TotalData,
		State:         string(cp.State),
		Checksum:      cp.Checksum,
		CreatedAt:     cp.CreatedAt.UTC(),
	}
}

func (r *checkpointRow) toCheckpoint() *jobstate.Checkpoint {
	return &jobstate.Checkpoint{
		ID:            r.ID,
		JobID:         r.JobID,
		ExecutionID:   r.ExecutionID,
		StepName:      r.StepName,
		StepNumber:    r.StepNumber,
		DataProcessed: r.DataProcessed,
		TotalData:     r.TotalData,
		State:         jobstate.CheckpointState(r.State),
		Checksum:      r.Checksum,
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

// SaveCheckpoint appends one checkpoint.
func (r *CheckpointRepository) SaveCheckpoint(ctx context.Context, cp *jobstate.Checkpoint) error {
	query := `
		INSERT INTO checkpoints (
			id, job_id, execution_id, step_name, step_number,
			data_processed, total_data, state, checksum, created_at
		) VALUES (
			:id, :job_id, :execution_id, :step_name, :step_number,
			:data_processed, :total_data, :state, :checksum, :created_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, newCheckpointRow(cp)); err != nil {
		return errors.NewInternalError("failed to save checkpoint").WithCause(err)
	}
	return nil
}

// LatestCompleted returns the most recent COMPLETED checkpoint for the job,
// or nil when none exists.
func (r *CheckpointRepository) LatestCompleted(ctx context.Context, jobID string) (*jobstate.Checkpoint, error) {
	var row checkpointRow
	query := `
		SELECT * FROM checkpoints
		WHERE job_id = $1 AND state = $2
		ORDER BY created_at DESC, seq DESC LIMIT 1`

	err := r.db.GetContext(ctx, &row, query, jobID, string(jobstate.CheckpointCompleted))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.NewInternalError("failed to load latest checkpoint").WithCause(err)
	}
	return row.toCheckpoint(), nil
}

// ListCheckpoints returns the job's checkpoints oldest first.
func (r *CheckpointRepository) ListCheckpoints(ctx context.Context, jobID string) ([]*jobstate.Checkpoint, error) {
	var rows []checkpointRow
	query := `SELECT * FROM checkpoints WHERE job_id = $1 ORDER BY created_at, seq`

	if err := r.db.SelectContext(ctx, &rows, query, jobID); err != nil {
		return nil, errors.NewInternalError("failed to list checkpoints").WithCause(err)
	}

	checkpoints := make([]*jobstate.Checkpoint, 0, len(rows))
	for i := range rows {
		checkpoints = append(checkpoints, rows[i].toCheckpoint())
	}
	return checkpoints, nil
}

// ExecutionRepository is the durable jobstate.ExecutionStore. Executions are
// upserted by ID; save_seq is reassigned on every save so StartTime ties
// resolve toward the most recently saved record.
type ExecutionRepository struct {
	db *DB
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(db *DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

type executionRow struct {
	SaveSeq          int64        `db:"save_seq"`
	ID               string       `db:"id"`
	JobID            string       `db:"job_id"`
	Status           string       `db:"status"`
	StartTime        time.Time    `db:"start_time"`
	EndTime          sql.NullTime `db:"end_time"`
	ItemsProcessed   int64        `db:"items_processed"`
	ItemsFailed      int64        `db:"items_failed"`
	AvgProcessingNS  int64        `db:"avg_processing_ns"`
	IntegrityScore   float64      `db:"integrity_score"`
	LastCheckpointAt sql.NullTime `db:"last_checkpoint_at"`
}

func newExecutionRow(exec *jobstate.JobExecution) *executionRow {
	row := &executionRow{
		ID:              exec.ID,
		JobID:           exec.JobID,
		Status:          string(exec.Status),
		StartTime:       exec.StartTime.UTC(),
		ItemsProcessed:  exec.ItemsProcessed,
		ItemsFailed:     exec.ItemsFailed,
		AvgProcessingNS: int64(exec.AvgProcessing),
		IntegrityScore:  exec.IntegrityScore,
	}
	if !exec.EndTime.IsZero() {
		row.EndTime = sql.NullTime{Time: exec.EndTime.UTC(), Valid: true}
	}
	if !exec.LastCheckpointAt.IsZero() {
		row.LastCheckpointAt = sql.NullTime{Time: exec.LastCheckpointAt.UTC(), Valid: true}
	}
	return row
}

func (r *executionRow) toExecution() *jobstate.JobExecution {
	exec := &jobstate.JobExecution{
		ID:             r.ID,
		JobID:          r.JobID,
		Status:         jobstate.ExecutionStatus(r.Status),
		StartTime:      r.StartTime.UTC(),
		ItemsProcessed: r.ItemsProcessed,
		ItemsFailed:    r.ItemsFailed,
		AvgProcessing:  time.Duration(r.AvgProcessingNS),
		IntegrityScore: r.IntegrityScore,
	}
	if r.EndTime.Valid {
		exec.EndTime = r.EndTime.Time.UTC()
	}
	if r.LastCheckpointAt.Valid {
		exec.LastCheckpointAt = r.LastCheckpointAt.Time.UTC()
	}
	return exec
}

// SaveExecution upserts one execution record.
func (r *ExecutionRepository) SaveExecution(ctx context.Context, exec *jobstate.JobExecution) error {
	query := `
		INSERT INTO job_executions (
			id, job_id, status, start_time, end_time, items_processed,
			items_failed, avg_processing_ns, integrity_score, last_checkpoint_at
		) VALUES (
			:id, :job_id, :status, :start_time, :end_time, :items_processed,
			:items_failed, :avg_processing_ns, :integrity_score, :last_checkpoint_at
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			items_processed = EXCLUDED.items_processed,
			items_failed = EXCLUDED.items_failed,
			avg_processing_ns = EXCLUDED.avg_processing_ns,
			integrity_score = EXCLUDED.integrity_score,
			last_checkpoint_at = EXCLUDED.last_checkpoint_at,
			save_seq = nextval(pg_get_serial_sequence('job_executions', 'save_seq'))`

	if _, err := r.db.NamedExecContext(ctx, query, newExecutionRow(exec)); err != nil {
		return errors.NewInternalError("failed to save job execution").WithCause(err)
	}
	return nil
}

// LatestExecution returns the most recently started execution for the job,
// or nil when the job has never run.
func (r *ExecutionRepository) LatestExecution(ctx context.Context, jobID string) (*jobstate.JobExecution, error) {
	var row executionRow
	query := `
		SELECT * FROM job_executions
		WHERE job_id = $1
		ORDER BY start_time DESC, save_seq DESC LIMIT 1`

	err := r.db.GetContext(ctx, &row, query, jobID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.NewInternalError("failed to load latest execution").WithCause(err)
	}
	return row.toExecution(), nil
}

// ListExecutions returns the job's executions oldest first.
func (r *ExecutionRepository) ListExecutions(ctx context.Context, jobID string) ([]*jobstate.JobExecution, error) {
	var rows []executionRow
	query := `SELECT * FROM job_executions WHERE job_id = $1 ORDER BY start_time, save_seq`

	if err := r.db.SelectContext(ctx, &rows, query, jobID); err != nil {
		return nil, errors.NewInternalError("failed to list job executions").WithCause(err)
	}

	executions := make([]*jobstate.JobExecution, 0, len(rows))
	for i := range rows {
		executions = append(executions, rows[i].toExecution())
	}
	return executions, nil
}

// MetricSampleRepository is the durable telemetry.SampleStore.
type MetricSampleRepository struct {
	db *DB
}

// NewMetricSampleRepository creates a new metric sample repository
func NewMetricSampleRepository(db *DB) *MetricSampleRepository {
	return &MetricSampleRepository{db: db}
}

type metricSampleRow struct {
	Seq       int64           `db:"seq"`
	Name      string          `db:"name"`
	Value     float64         `db:"value"`
	Unit      string          `db:"unit"`
	Tags      json.RawMessage `db:"tags"`
	Timestamp time.Time       `db:"ts"`
}

func newMetricSampleRow(sample telemetry.Sample) (*metricSampleRow, error) {
	tags, err := json.Marshal(sample.Tags)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode sample tags").WithCause(err)
	}
	return &metricSampleRow{
		Name:      sample.Name,
		Value:     sample.Value,
		Unit:      sample.Unit,
		Tags:      tags,
		Timestamp: sample.Timestamp.UTC(),
	}, nil
}

func (r *metricSampleRow) toSample() (telemetry.Sample, error) {
	var tags map[string]string
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &tags); err != nil {
			return telemetry.Sample{}, errors.NewInternalError("failed to decode sample tags").WithCause(err)
		}
	}
	return telemetry.Sample{
		Name:      r.Name,
		Value:     r.Value,
		Unit:      r.Unit,
		Tags:      tags,
		Timestamp: r.Timestamp.UTC(),
	}, nil
}

// SaveSamples persists one flush batch atomically.
func (r *MetricSampleRepository) SaveSamples(ctx context.Context, samples []telemetry.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	rows := make([]*metricSampleRow, 0, len(samples))
	for _, sample := range samples {
		row, err := newMetricSampleRow(sample)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	query := `
		INSERT INTO metric_samples (name, value, unit, tags, ts)
		VALUES (:name, :value, :unit, :tags, :ts)`

	return r.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, query, rows); err != nil {
			return errors.NewInternalError("failed to save metric samples").WithCause(err)
		}
		return nil
	})
}

// ListSamples returns samples for a metric inside [from, to], oldest first.
func (r *MetricSampleRepository) ListSamples(ctx context.Context, name string, from, to time.Time, limit int) ([]telemetry.Sample, error) {
	var clauses []string
	var args []interface{}

	add := func(clause string, v interface{}) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	add("name = $%d", name)
	if !from.IsZero() {
		add("ts >= $%d", from.UTC())
	}
	if !to.IsZero() {
		add("ts <= $%d", to.UTC())
	}

	query := `SELECT * FROM metric_samples WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY ts, seq`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []metricSampleRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.NewInternalError("failed to list metric samples").WithCause(err)
	}

	samples := make([]telemetry.Sample, 0, len(rows))
	for i := range rows {
		sample, err := rows[i].toSample()
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

// Repositories holds all repository instances
type Repositories struct {
	AuditEntries  *AuditEntryRepository
	BreakerStates *BreakerStateRepository
	Checkpoints   *CheckpointRepository
	Executions    *ExecutionRepository
	MetricSamples *MetricSampleRepository
}

// NewRepositories creates all repositories
func NewRepositories(db *DB) *Repositories {
	return &Repositories{
		AuditEntries:  NewAuditEntryRepository(db),
		BreakerStates: NewBreakerStateRepository(db),
		Checkpoints:   NewCheckpointRepository(db),
		Executions:    NewExecutionRepository(db),
		MetricSamples: NewMetricSampleRepository(db),
	}
}
