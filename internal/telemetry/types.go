package telemetry

import (
	"context"
	"sync"
	"time"
)

// Sample is one business or SLA measurement: a named value with a unit,
// optional dimension tags, and the time it was observed.
type Sample struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// SampleStore is the durable mirror of recorded samples. The sink buffers
// in memory and flushes batches, so SaveSamples must accept many at once.
type SampleStore interface {
	SaveSamples(ctx context.Context, samples []Sample) error

	// ListSamples returns samples for a metric name inside [from, to],
	// oldest first, capped at limit when limit > 0.
	ListSamples(ctx context.Context, name string, from, to time.Time, limit int) ([]Sample, error)
}

// MemorySampleStore keeps samples in memory for library users without
// Postgres and for tests.
type MemorySampleStore struct {
	mu      sync.RWMutex
	samples []Sample
}

func NewMemorySampleStore() *MemorySampleStore {
	return &MemorySampleStore{}
}

func (s *MemorySampleStore) SaveSamples(ctx context.Context, samples []Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, samples...)
	return nil
}

func (s *MemorySampleStore) ListSamples(ctx context.Context, name string, from, to time.Time, limit int) ([]Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Sample
	for _, sample := range s.samples {
		if sample.Name != name {
			continue
		}
		if !from.IsZero() && sample.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && sample.Timestamp.After(to) {
			continue
		}
		out = append(out, sample)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
