package batching

import (
	"runtime"
)

const (
	// StrategyBalanced is the fallback strategy when nothing else fits.
	StrategyBalanced          = "balanced"
	StrategyHighThroughput    = "high_throughput"
	StrategyTransactionSafe   = "transaction_safe"
	StrategyMemoryConstrained = "memory_constrained"
)

// defaultStrategies builds the initial catalog. MaxMemoryPercent and
// MaxCPUPercent are the system usage ceilings under which a strategy still
// earns its resource-fit score, so memory_constrained stays eligible under
// pressure that disqualifies high_throughput.
func defaultStrategies() []*Strategy {
	return []*Strategy{
		{
			Name:             StrategyHighThroughput,
			BatchSize:        500,
			Concurrency:      8,
			Priority:         5,
			MaxMemoryPercent: 60,
			MaxCPUPercent:    60,
			MaxErrorRate:     0.05,
			DataTypes:        []DataType{DataTypeReference, DataTypeLog},
			Sensitivities:    []Sensitivity{SensitivityPublic, SensitivityInternal},
		},
		{
			Name:             StrategyTransactionSafe,
			BatchSize:        100,
			Concurrency:      2,
			Priority:         8,
			MaxMemoryPercent: 70,
			MaxCPUPercent:    70,
			MaxErrorRate:     0.01,
			DataTypes:        []DataType{DataTypeTransaction},
			Sensitivities:    []Sensitivity{SensitivityInternal, SensitivityConfidential, SensitivityRestricted},
		},
		{
			Name:             StrategyMemoryConstrained,
			BatchSize:        50,
			Concurrency:      1,
			Priority:         3,
			MaxMemoryPercent: 90,
			MaxCPUPercent:    85,
			MaxErrorRate:     0.10,
		},
		{
			Name:             StrategyBalanced,
			BatchSize:        200,
			Concurrency:      4,
			Priority:         4,
			MaxMemoryPercent: 80,
			MaxCPUPercent:    80,
			MaxErrorRate:     0.05,
		},
	}
}

// selectStrategy scores every catalog entry against the data and the
// current system status and returns the best fit. Ties break on priority.
// Callers hold the catalog lock.
func (e *Engine) selectStrategy(chars DataCharacteristics, status SystemStatus) *Strategy {
	var best *Strategy
	bestScore := 0.0
	var fallback *Strategy

	for _, s := range e.strategies {
		if s.Name == StrategyBalanced {
			fallback = s
		}
		score := scoreStrategy(s, chars, status)
		if best == nil || score > bestScore || (score == bestScore && s.Priority > best.Priority) {
			best = s
			bestScore = score
		}
	}

	if bestScore <= 0 && fallback != nil {
		return fallback
	}
	return best
}

func scoreStrategy(s *Strategy, chars DataCharacteristics, status SystemStatus) float64 {
	score := 0.0
	if s.matchesType(chars.DataType) {
		score += 30
	}
	if s.matchesSensitivity(chars.Sensitivity) {
		score += 25
	}
	if status.MemoryPercent < s.MaxMemoryPercent {
		score += 20
	}
	if status.CPUPercent < s.MaxCPUPercent {
		score += 15
	}
	if status.ErrorRate < s.MaxErrorRate {
		score += 10
	}
	return score
}

// computeBatchSize narrows the strategy's base size against the memory
// budget, then the data's sensitivity and type, then clamps to the
// configured bounds and the item count.
func (e *Engine) computeBatchSize(s *Strategy, chars DataCharacteristics, status SystemStatus, itemCount int) int {
	size := float64(s.BatchSize)

	perRecord := estimatedRecordBytes(chars)
	budget := float64(status.AvailableHeapBytes) * e.config.MemoryFraction
	if perRecord > 0 && budget > 0 {
		ceiling := budget / perRecord
		if ceiling < size {
			size = ceiling
		}
	}

	switch chars.Sensitivity {
	case SensitivityRestricted:
		size *= 0.5
	case SensitivityConfidential:
		size *= 0.7
	}

	switch chars.DataType {
	case DataTypeTransaction:
		size *= 0.8
	case DataTypeReference:
		size *= 1.5
	}

	result := int(size)
	if result < e.config.MinBatchSize {
		result = e.config.MinBatchSize
	}
	if result > e.config.MaxBatchSize {
		result = e.config.MaxBatchSize
	}
	if result > itemCount {
		result = itemCount
	}
	return result
}

// estimatedRecordBytes inflates the caller-reported record size with
// handling overhead for sensitive data and compliance tagging. Records of
// unknown size are assumed to be 1KiB.
func estimatedRecordBytes(chars DataCharacteristics) float64 {
	base := float64(chars.RecordSizeBytes)
	if base <= 0 {
		base = 1024
	}
	multiplier := 1.0
	if chars.Sensitivity == SensitivityConfidential || chars.Sensitivity == SensitivityRestricted {
		multiplier += 0.5
	}
	multiplier += 0.1 * float64(len(chars.ComplianceTags))
	return base * multiplier
}

// deriveAllocation turns the selected strategy and current status into the
// budget enforced between sub-batches.
func (e *Engine) deriveAllocation(s *Strategy, status SystemStatus, batchSize int) ResourceAllocation {
	memBudget := int64(float64(status.AvailableHeapBytes) * e.config.MemoryFraction)

	dbConns := s.Concurrency
	if dbConns > 8 {
		dbConns = 8
	}
	if dbConns < 2 {
		dbConns = 2
	}

	return ResourceAllocation{
		MaxMemoryBytes: memBudget,
		MaxCPUPercent:  s.MaxCPUPercent,
		MaxConcurrency: s.Concurrency,
		IORateLimit:    batchSize * s.Concurrency,
		DBConnections:  dbConns,
	}
}

// defaultStatusFunc reads the Go runtime directly. CPU load is
// approximated from goroutine pressure against available cores; hosts
// wanting real measurements wire the resource monitor in instead.
func defaultStatusFunc() SystemStatus {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	memPercent := 0.0
	if ms.HeapSys > 0 {
		memPercent = float64(ms.HeapAlloc) / float64(ms.HeapSys) * 100
	}
	var available uint64
	if ms.HeapSys > ms.HeapAlloc {
		available = ms.HeapSys - ms.HeapAlloc
	}

	cpuPercent := float64(runtime.NumGoroutine()) / float64(runtime.NumCPU()*25) * 100
	if cpuPercent > 100 {
		cpuPercent = 100
	}

	return SystemStatus{
		MemoryPercent:      memPercent,
		CPUPercent:         cpuPercent,
		AvailableHeapBytes: available,
		HeapInUseBytes:     ms.HeapAlloc,
	}
}
