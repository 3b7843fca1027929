package audit

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/dgraph-io/badger/v3"
	json "github.com/goccy/go-json"

	"github.com/atelierhq/loom/internal/domain"
)

// ArchiveSink appends audit records to a badger store as JSON, keyed by
// correlation id plus a process-wide sequence so records for one correlation
// id stay adjacent and ordered.
type ArchiveSink struct {
	db     *badger.DB
	seq    int64
	logger *slog.Logger
}

func NewArchiveSink(path string, inMemory bool, logger *slog.Logger) (*ArchiveSink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(path).WithLogger(nil)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &ArchiveSink{
		db:     db,
		logger: logger.With("component", "audit-archive"),
	}, nil
}

func (s *ArchiveSink) Append(ctx context.Context, record domain.AuditRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	seq := atomic.AddInt64(&s.seq, 1)
	key := domain.AuditKey(record.CorrelationID, seq)

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), payload)
	})
}

// ByCorrelation returns the stored records for one correlation id in append
// order.
func (s *ArchiveSink) ByCorrelation(correlationID string) ([]domain.AuditRecord, error) {
	prefix := []byte(domain.AuditKeyPrefix + correlationID + ":")

	var records []domain.AuditRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var record domain.AuditRecord
			if err := json.Unmarshal(value, &record); err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *ArchiveSink) Close() error {
	return s.db.Close()
}
