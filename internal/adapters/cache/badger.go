package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/atelierhq/loom/internal/helpers/glob"
)

// Store implements ports.CachePort on a badger key-value store. Glob
// operations scan by the pattern's literal prefix and filter the remainder.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

type Options struct {
	Path     string
	InMemory bool
}

func NewStore(opts Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	badgerOpts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:     db,
		logger: logger.With("component", "response-cache"),
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})

	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (s *Store) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	keys, err := s.matchingKeys(pattern)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	deleted := 0
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Debug("deleted cache keys", "pattern", pattern, "count", deleted)
	return deleted, nil
}

func (s *Store) ExtendMatching(ctx context.Context, pattern string, ttl time.Duration) (int, error) {
	keys, err := s.matchingKeys(pattern)
	if err != nil {
		return 0, err
	}

	touched := 0
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			item, err := txn.Get([]byte(key))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			entry := badger.NewEntry([]byte(key), value).WithTTL(ttl)
			if err := txn.SetEntry(entry); err != nil {
				return err
			}
			touched++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Debug("extended cache keys", "pattern", pattern, "count", touched, "ttl", ttl)
	return touched, nil
}

func (s *Store) matchingKeys(pattern string) ([]string, error) {
	prefix := []byte(glob.LiteralPrefix(pattern))

	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			if glob.Match(pattern, key) {
				keys = append(keys, key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
