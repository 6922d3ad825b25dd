package batching

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DataType tags the kind of records in a batch.
type DataType string

const (
	DataTypeTransaction DataType = "TRANSACTION"
	DataTypeAccount     DataType = "ACCOUNT"
	DataTypeReference   DataType = "REFERENCE"
	DataTypeLog         DataType = "LOG"
	DataTypeAudit       DataType = "AUDIT"
)

// Sensitivity tags how carefully a batch's records must be handled. The
// values match the intake sensitivities used by degradation gating.
type Sensitivity string

const (
	SensitivityPublic       Sensitivity = "PUBLIC"
	SensitivityInternal     Sensitivity = "INTERNAL"
	SensitivityConfidential Sensitivity = "CONFIDENTIAL"
	SensitivityRestricted   Sensitivity = "RESTRICTED"
)

// RequiresSealing reports whether record samples of this sensitivity must
// not be stored in the clear outside the process.
func (s Sensitivity) RequiresSealing() bool {
	return s == SensitivityConfidential || s == SensitivityRestricted
}

// DataCharacteristics describes one batch invocation. Supplied by the
// caller per call; never stored.
type DataCharacteristics struct {
	RecordSizeBytes int64           `json:"record_size_bytes"`
	TotalValue      decimal.Decimal `json:"total_value"`
	DataType        DataType        `json:"data_type"`
	Sensitivity     Sensitivity     `json:"sensitivity"`
	ComplianceTags  []string        `json:"compliance_tags,omitempty"`
}

// Strategy is one catalog entry. Selection reads strategies; only the
// adaptive tuner rewrites their batch sizes, under the catalog lock.
type Strategy struct {
	Name             string        `json:"name"`
	BatchSize        int           `json:"batch_size"`
	Concurrency      int           `json:"concurrency"`
	Priority         int           `json:"priority"`
	MaxMemoryPercent float64       `json:"max_memory_percent"`
	MaxCPUPercent    float64       `json:"max_cpu_percent"`
	MaxErrorRate     float64       `json:"max_error_rate"`
	DataTypes        []DataType    `json:"data_types,omitempty"`
	Sensitivities    []Sensitivity `json:"sensitivities,omitempty"`
}

// matchesType reports whether the strategy applies to the given data type.
// An empty DataTypes list applies to every type.
func (s *Strategy) matchesType(dt DataType) bool {
	if len(s.DataTypes) == 0 {
		return true
	}
	for _, t := range s.DataTypes {
		if t == dt {
			return true
		}
	}
	return false
}

func (s *Strategy) matchesSensitivity(sv Sensitivity) bool {
	if len(s.Sensitivities) == 0 {
		return true
	}
	for _, c := range s.Sensitivities {
		if c == sv {
			return true
		}
	}
	return false
}

// SystemStatus is a point-in-time view of process resources consumed by
// strategy selection and allocation enforcement. Consumers tolerate
// staleness.
type SystemStatus struct {
	MemoryPercent      float64 `json:"memory_percent"`
	CPUPercent         float64 `json:"cpu_percent"`
	ErrorRate          float64 `json:"error_rate"`
	AvailableHeapBytes uint64  `json:"available_heap_bytes"`
	HeapInUseBytes     uint64  `json:"heap_in_use_bytes"`
}

// StatusFunc supplies system status snapshots. The host wires the resource
// monitor in; the engine falls back to reading the runtime directly.
type StatusFunc func() SystemStatus

// ResourceAllocation is the derived per-invocation budget. Computed fresh
// per call; not persisted.
type ResourceAllocation struct {
	MaxMemoryBytes int64   `json:"max_memory_bytes"`
	MaxCPUPercent  float64 `json:"max_cpu_percent"`
	MaxConcurrency int     `json:"max_concurrency"`
	IORateLimit    int     `json:"io_rate_limit"`
	DBConnections  int     `json:"db_connections"`
}

// BatchMetrics measures one sub-batch. Appended to a bounded rolling
// history used for adaptive tuning and reporting.
type BatchMetrics struct {
	BatchID          string          `json:"batch_id"`
	Strategy         string          `json:"strategy"`
	SubBatch         int             `json:"sub_batch"`
	BatchSize        int             `json:"batch_size"`
	ProcessingTime   time.Duration   `json:"processing_time"`
	MemoryUsedBytes  uint64          `json:"memory_used_bytes"`
	Throughput       float64         `json:"throughput"`
	ErrorRate        float64         `json:"error_rate"`
	IntegrityScore   float64         `json:"integrity_score"`
	FinancialAmount  decimal.Decimal `json:"financial_amount"`
	CompliancePassed bool            `json:"compliance_passed"`
	Timestamp        time.Time       `json:"timestamp"`
}

// ResourceUsage aggregates what the call actually consumed.
type ResourceUsage struct {
	PeakHeapBytes uint64 `json:"peak_heap_bytes"`
	ForcedGCs     int    `json:"forced_gcs"`
	YieldDelays   int    `json:"yield_delays"`
}

// Result is the outcome of one ProcessBatch call.
type Result struct {
	BatchID            string             `json:"batch_id"`
	Strategy           string             `json:"strategy"`
	TotalItems         int                `json:"total_items"`
	Processed          int                `json:"processed"`
	Errors             int                `json:"errors"`
	SubBatches         int                `json:"sub_batches"`
	DeadLettered       int                `json:"dead_lettered"`
	MeanProcessingTime time.Duration      `json:"mean_processing_time"`
	IntegrityScore     float64            `json:"integrity_score"`
	Allocation         ResourceAllocation `json:"allocation"`
	Usage              ResourceUsage      `json:"usage"`
}

// Processor handles one sub-batch. A returned error fails the whole
// sub-batch; the engine dead-letters it and continues.
type Processor func(ctx context.Context, items []interface{}) error

// DeadLetterRecord captures a failed sub-batch with a bounded sample of
// its records. Sinks use Sensitivity to decide whether the sample may be
// stored in the clear; a sealed sample lives in EncryptedSample instead of
// ItemSample.
type DeadLetterRecord struct {
	BatchID         string        `json:"batch_id"`
	Strategy        string        `json:"strategy"`
	SubBatch        int           `json:"sub_batch"`
	FailureType     string        `json:"failure_type"`
	Error           string        `json:"error"`
	ItemCount       int           `json:"item_count"`
	Sensitivity     Sensitivity   `json:"sensitivity,omitempty"`
	ItemSample      []interface{} `json:"item_sample,omitempty"`
	EncryptedSample string        `json:"encrypted_sample,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
}

// FailureTypeProcessing tags processor errors routed to the dead letter
// sink.
const FailureTypeProcessing = "PROCESSING_ERROR"

// DeadLetterSink receives failed sub-batches. Push failures are absorbed;
// dead-lettering is best effort.
type DeadLetterSink interface {
	Push(ctx context.Context, record DeadLetterRecord) error
}

// MemoryDeadLetterSink buffers dead letters in process, for tests and
// deployments without Redis.
type MemoryDeadLetterSink struct {
	mu      sync.Mutex
	records []DeadLetterRecord
}

func NewMemoryDeadLetterSink() *MemoryDeadLetterSink {
	return &MemoryDeadLetterSink{}
}

func (s *MemoryDeadLetterSink) Push(ctx context.Context, record DeadLetterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// Records returns a copy of everything pushed so far.
func (s *MemoryDeadLetterSink) Records() []DeadLetterRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeadLetterRecord, len(s.records))
	copy(out, s.records)
	return out
}
