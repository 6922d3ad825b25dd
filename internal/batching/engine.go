package batching

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flowledger/flowledger/internal/audit"
	"github.com/flowledger/flowledger/pkg/errors"
	"github.com/flowledger/flowledger/pkg/logging"
	"github.com/flowledger/flowledger/pkg/metrics"
	"github.com/flowledger/flowledger/pkg/security"
)

// ChainBatching is the audit chain batch outcomes are written to.
const ChainBatching = "batching"

// Config contains batching engine configuration.
type Config struct {
	MinBatchSize       int             `json:"min_batch_size"`
	MaxBatchSize       int             `json:"max_batch_size"`
	TargetProcessing   time.Duration   `json:"target_processing"`
	MaxFinancialValue  decimal.Decimal `json:"max_financial_value"`
	MemoryFraction     float64         `json:"memory_fraction"`
	TuneEvery          int             `json:"tune_every"`
	MetricsWindow      int             `json:"metrics_window"`
	DeadLetterSample   int             `json:"dead_letter_sample"`
	AbortErrorFraction float64         `json:"abort_error_fraction"`
}

// DefaultConfig returns default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		MinBatchSize:       10,
		MaxBatchSize:       50000,
		TargetProcessing:   30 * time.Second,
		MaxFinancialValue:  decimal.NewFromInt(10000000),
		MemoryFraction:     0.25,
		TuneEvery:          5,
		MetricsWindow:      100,
		DeadLetterSample:   10,
		AbortErrorFraction: 0.10,
	}
}

// Engine sizes, executes, and audits batch work. Strategy selection and
// sizing react to live resource status; the catalog self-tunes from a
// rolling window of sub-batch metrics.
type Engine struct {
	config *Config

	mu            sync.Mutex
	strategies    []*Strategy
	subBatchCount int
	history       []BatchMetrics

	ledger  *audit.Ledger
	sink    DeadLetterSink
	status  StatusFunc
	clock   security.Clock
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewEngine creates a batching engine. The ledger may be nil, in which case
// batch outcomes are not audited. A nil sink buffers dead letters in memory.
func NewEngine(config *Config, ledger *audit.Ledger, sink DeadLetterSink, status StatusFunc, clock security.Clock, logger *logging.Logger, m *metrics.Metrics) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if sink == nil {
		sink = NewMemoryDeadLetterSink()
	}
	if status == nil {
		status = defaultStatusFunc
	}
	if clock == nil {
		clock = security.NewSystemClock()
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &Engine{
		config:     config,
		strategies: defaultStrategies(),
		ledger:     ledger,
		sink:       sink,
		status:     status,
		clock:      clock,
		logger:     logger,
		metrics:    m,
	}
}

// Strategies returns a copy of the current catalog.
func (e *Engine) Strategies() []Strategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Strategy, 0, len(e.strategies))
	for _, s := range e.strategies {
		out = append(out, *s)
	}
	return out
}

// RecentMetrics returns a copy of the rolling sub-batch metric window.
func (e *Engine) RecentMetrics() []BatchMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]BatchMetrics, len(e.history))
	copy(out, e.history)
	return out
}

// ProcessBatch partitions items into sub-batches sized for the data and the
// current system status, runs the processor over each, dead-letters failed
// sub-batches, and audits the outcome. Batches whose declared total value
// exceeds the configured ceiling are rejected before any processing.
func (e *Engine) ProcessBatch(ctx context.Context, items []interface{}, chars DataCharacteristics, proc Processor) (*Result, error) {
	if proc == nil {
		return nil, errors.NewValidationError("batch processor is required")
	}

	batchID := security.NewBatchID()
	status := e.status()

	if err := e.preflight(ctx, batchID, chars); err != nil {
		return nil, err
	}

	e.mu.Lock()
	strategy := *e.selectStrategy(chars, status)
	e.mu.Unlock()

	batchSize := e.computeBatchSize(&strategy, chars, status, len(items))
	allocation := e.deriveAllocation(&strategy, status, batchSize)

	result := &Result{
		BatchID:    batchID,
		Strategy:   strategy.Name,
		TotalItems: len(items),
		Allocation: allocation,
	}

	if len(items) == 0 {
		result.IntegrityScore = 1.0
		e.logger.LogBatchEvent(ctx, "batch_empty", batchID, strategy.Name, nil)
		return result, nil
	}

	e.logger.LogBatchEvent(ctx, "batch_started", batchID, strategy.Name, logging.Fields{
		"total_items": len(items),
		"batch_size":  batchSize,
		"data_type":   chars.DataType,
	})

	start := e.clock.Now()
	var totalDuration time.Duration

	for offset := 0; offset < len(items); offset += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewTimeoutError("batch processing").WithCause(err)
		}

		end := offset + batchSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[offset:end]
		subBatch := result.SubBatches
		result.SubBatches++

		e.applyAllocation(allocation, &result.Usage)

		subStart := e.clock.Now()
		procErr := proc(ctx, chunk)
		elapsed := e.clock.Now().Sub(subStart)
		totalDuration += elapsed

		if procErr != nil {
			result.Errors += len(chunk)
			e.recordSubBatch(BatchMetrics{
				BatchID:          batchID,
				Strategy:         strategy.Name,
				SubBatch:         subBatch,
				BatchSize:        len(chunk),
				ProcessingTime:   elapsed,
				MemoryUsedBytes:  e.status().HeapInUseBytes,
				ErrorRate:        1.0,
				FinancialAmount:  chars.TotalValue,
				CompliancePassed: false,
				Timestamp:        subStart.UTC(),
			})
			if err := e.handleSubBatchFailure(ctx, batchID, strategy.Name, subBatch, chunk, chars.Sensitivity, procErr); err != nil {
				return nil, err
			}
			result.DeadLettered += len(chunk)

			if float64(result.Errors) > e.config.AbortErrorFraction*float64(result.TotalItems) {
				if e.metrics != nil {
					e.metrics.RecordBatch(strategy.Name, "aborted", batchSize, e.clock.Now().Sub(start))
				}
				return nil, errors.NewAppError(errors.ErrorTypeExhausted, "BATCH_ERROR_BUDGET_EXCEEDED",
					fmt.Sprintf("aborting batch %s: %d of %d items failed", batchID, result.Errors, result.TotalItems)).
					WithDetail("strategy", strategy.Name)
			}
			continue
		}

		result.Processed += len(chunk)
		e.recordSubBatch(BatchMetrics{
			BatchID:          batchID,
			Strategy:         strategy.Name,
			SubBatch:         subBatch,
			BatchSize:        len(chunk),
			ProcessingTime:   elapsed,
			MemoryUsedBytes:  e.status().HeapInUseBytes,
			Throughput:       throughput(len(chunk), elapsed),
			IntegrityScore:   1.0,
			FinancialAmount:  chars.TotalValue,
			CompliancePassed: true,
			Timestamp:        subStart.UTC(),
		})
		if e.metrics != nil {
			e.metrics.RecordSubBatch(strategy.Name, "success")
		}
	}

	result.IntegrityScore = float64(result.Processed) / float64(result.TotalItems)
	if result.SubBatches > 0 {
		result.MeanProcessingTime = totalDuration / time.Duration(result.SubBatches)
	}

	outcome := "success"
	if result.Errors > 0 {
		outcome = "partial"
	}
	if e.metrics != nil {
		e.metrics.RecordBatch(strategy.Name, outcome, batchSize, e.clock.Now().Sub(start))
	}
	e.logger.LogBatchEvent(ctx, "batch_completed", batchID, strategy.Name, logging.Fields{
		"processed":       result.Processed,
		"errors":          result.Errors,
		"dead_lettered":   result.DeadLettered,
		"sub_batches":     result.SubBatches,
		"integrity_score": result.IntegrityScore,
	})

	if err := e.auditCompletion(ctx, result, chars); err != nil {
		return result, err
	}
	return result, nil
}

// preflight rejects batches whose declared financial value exceeds the
// ceiling. The rejection itself is audited.
func (e *Engine) preflight(ctx context.Context, batchID string, chars DataCharacteristics) error {
	if chars.TotalValue.LessThanOrEqual(e.config.MaxFinancialValue) {
		return nil
	}

	if e.metrics != nil {
		e.metrics.RecordError("batching_engine", "value_ceiling")
	}
	if e.ledger != nil {
		_, err := e.ledger.Append(ctx, audit.Event{
			EventType:  audit.EventTypeBatchFailure,
			EntityID:   batchID,
			EntityType: "BATCH",
			Actor:      "batching_engine",
			Action:     "VALUE_CEILING_REJECTED",
			Outcome:    audit.OutcomeFailure,
			Details: map[string]interface{}{
				"total_value": chars.TotalValue.String(),
				"ceiling":     e.config.MaxFinancialValue.String(),
			},
			Chain: ChainBatching,
		})
		if err != nil {
			return err
		}
	}

	return errors.NewResourceExhaustedError(
		fmt.Sprintf("batch value %s exceeds processing ceiling %s", chars.TotalValue.String(), e.config.MaxFinancialValue.String())).
		WithDetail("batch_id", batchID)
}

// applyAllocation enforces the budget before a sub-batch runs. Over-budget
// heap forces a collection; CPU saturation yields briefly.
func (e *Engine) applyAllocation(allocation ResourceAllocation, usage *ResourceUsage) {
	status := e.status()

	if status.HeapInUseBytes > usage.PeakHeapBytes {
		usage.PeakHeapBytes = status.HeapInUseBytes
	}
	if allocation.MaxMemoryBytes > 0 && status.HeapInUseBytes > uint64(allocation.MaxMemoryBytes) {
		runtime.GC()
		usage.ForcedGCs++
	}
	if status.CPUPercent >= allocation.MaxCPUPercent {
		time.Sleep(10 * time.Millisecond)
		usage.YieldDelays++
	}
}

// handleSubBatchFailure dead-letters the chunk and audits the failure. The
// sink push is best effort; the audit write is not, and its failure aborts
// the batch.
func (e *Engine) handleSubBatchFailure(ctx context.Context, batchID, strategy string, subBatch int, chunk []interface{}, sensitivity Sensitivity, procErr error) error {
	sample := chunk
	if len(sample) > e.config.DeadLetterSample {
		sample = sample[:e.config.DeadLetterSample]
	}

	record := DeadLetterRecord{
		BatchID:     batchID,
		Strategy:    strategy,
		SubBatch:    subBatch,
		FailureType: FailureTypeProcessing,
		Error:       procErr.Error(),
		ItemCount:   len(chunk),
		Sensitivity: sensitivity,
		ItemSample:  sample,
		Timestamp:   e.clock.Now().UTC(),
	}
	if err := e.sink.Push(ctx, record); err != nil {
		e.logger.WithComponent("batching_engine").WithFields(logging.Fields{
			"batch_id":  batchID,
			"sub_batch": subBatch,
		}).WithError(err).Warn("dead letter push failed")
		if e.metrics != nil {
			e.metrics.RecordError("batching_engine", "dead_letter_push")
		}
	} else if e.metrics != nil {
		e.metrics.RecordDeadLettered(FailureTypeProcessing)
	}

	if e.metrics != nil {
		e.metrics.RecordSubBatch(strategy, "failure")
	}

	if e.ledger != nil {
		_, err := e.ledger.Append(ctx, audit.Event{
			EventType:  audit.EventTypeBatchFailure,
			EntityID:   batchID,
			EntityType: "BATCH",
			Actor:      "batching_engine",
			Action:     "SUB_BATCH_FAILED",
			Outcome:    audit.OutcomeFailure,
			Details: map[string]interface{}{
				"sub_batch":  subBatch,
				"item_count": len(chunk),
				"error":      procErr.Error(),
				"strategy":   strategy,
			},
			Chain: ChainBatching,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// auditCompletion writes the call-level outcome entry.
func (e *Engine) auditCompletion(ctx context.Context, result *Result, chars DataCharacteristics) error {
	if e.ledger == nil {
		return nil
	}

	outcome := audit.OutcomeSuccess
	if result.Errors > 0 {
		outcome = audit.OutcomeWarning
	}
	_, err := e.ledger.Append(ctx, audit.Event{
		EventType:  audit.EventTypeBatchCompleted,
		EntityID:   result.BatchID,
		EntityType: "BATCH",
		Actor:      "batching_engine",
		Action:     "PROCESS_BATCH",
		Outcome:    outcome,
		Details: map[string]interface{}{
			"strategy":        result.Strategy,
			"total_items":     result.TotalItems,
			"processed":       result.Processed,
			"errors":          result.Errors,
			"dead_lettered":   result.DeadLettered,
			"sub_batches":     result.SubBatches,
			"integrity_score": result.IntegrityScore,
			"total_value":     chars.TotalValue.String(),
			"data_type":       string(chars.DataType),
		},
		Chain: ChainBatching,
	})
	return err
}

// recordSubBatch appends to the rolling metric window and runs the tuner
// every TuneEvery sub-batches.
func (e *Engine) recordSubBatch(m BatchMetrics) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.history = append(e.history, m)
	if len(e.history) > e.config.MetricsWindow {
		e.history = e.history[len(e.history)-e.config.MetricsWindow:]
	}

	e.subBatchCount++
	if e.config.TuneEvery > 0 && e.subBatchCount%e.config.TuneEvery == 0 {
		e.tuneCatalog()
	}
}

// tuneCatalog resizes the whole catalog from the rolling window averages.
// A slow or error-prone window shrinks every strategy's batch size by 20%,
// floored at the minimum; a fast clean window grows them by 20%, capped at
// the maximum. Callers hold e.mu.
func (e *Engine) tuneCatalog() {
	if len(e.history) == 0 {
		return
	}

	var totalTime time.Duration
	var totalErr float64
	for _, m := range e.history {
		totalTime += m.ProcessingTime
		totalErr += m.ErrorRate
	}
	avgTime := totalTime / time.Duration(len(e.history))
	avgErr := totalErr / float64(len(e.history))

	target := e.config.TargetProcessing
	var factor float64
	switch {
	case avgTime > target+target/2 || avgErr > 0.05:
		factor = 0.8
	case avgTime < target/2 && avgErr < 0.01:
		factor = 1.2
	default:
		return
	}

	resized := false
	for _, s := range e.strategies {
		size := int(float64(s.BatchSize) * factor)
		if factor < 1 && size < e.config.MinBatchSize {
			size = e.config.MinBatchSize
		}
		if factor > 1 && size > e.config.MaxBatchSize {
			size = e.config.MaxBatchSize
		}
		if size != s.BatchSize {
			s.BatchSize = size
			resized = true
		}
	}

	if resized {
		e.logger.WithComponent("batching_engine").WithFields(logging.Fields{
			"factor":     factor,
			"avg_time":   avgTime.String(),
			"avg_errors": avgErr,
		}).Info("strategy catalog resized")
	}
}

func throughput(items int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(items) / elapsed.Seconds()
}
