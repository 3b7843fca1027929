package audit

import (
	"context"
	"sync"

	"github.com/atelierhq/loom/internal/domain"
)

// MemorySink keeps records in memory; intended for tests and for callers
// that only need the most recent history.
type MemorySink struct {
	mu      sync.RWMutex
	records []domain.AuditRecord
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(ctx context.Context, record domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *MemorySink) Records() []domain.AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditRecord, len(s.records))
	copy(out, s.records)
	return out
}

func (s *MemorySink) ByEventType(eventType domain.EventType) []domain.AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AuditRecord
	for _, r := range s.records {
		if r.EventType == eventType {
			out = append(out, r)
		}
	}
	return out
}

func (s *MemorySink) Close() error {
	return nil
}
