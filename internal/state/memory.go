package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws-samples/eks-node-rollout/internal/models"
)

// MemoryRecorder is an in-process Recorder with the same conditional-write
// semantics as the DynamoDB implementation. It backs unit tests and dry runs;
// it provides no durability across processes.
type MemoryRecorder struct {
	mu      sync.Mutex
	records map[string]models.RolloutRecord
}

// NewMemoryRecorder returns an empty MemoryRecorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{records: make(map[string]models.RolloutRecord)}
}

// Get implements Recorder.
func (m *MemoryRecorder) Get(_ context.Context, key string) (*models.RolloutRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Put implements Recorder.
func (m *MemoryRecorder) Put(_ context.Context, rec models.RolloutRecord, expectedRevision int64) (*models.RolloutRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rec.Key()
	stored, exists := m.records[key]

	switch {
	case expectedRevision == 0 && exists:
		return nil, fmt.Errorf("record %q already exists: %w", key, models.ErrConcurrentModification)
	case expectedRevision > 0 && !exists:
		return nil, fmt.Errorf("record %q missing at revision %d: %w", key, expectedRevision, models.ErrConcurrentModification)
	case expectedRevision > 0 && stored.Revision != expectedRevision:
		return nil, fmt.Errorf("record %q at revision %d, expected %d: %w",
			key, stored.Revision, expectedRevision, models.ErrConcurrentModification)
	}

	rec.Revision = expectedRevision + 1
	m.records[key] = rec
	return &rec, nil
}

// List implements Recorder.
func (m *MemoryRecorder) List(_ context.Context) ([]models.RolloutRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.RolloutRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out, nil
}

// Len returns the number of stored records.
func (m *MemoryRecorder) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
