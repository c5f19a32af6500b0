// Package kv stores the state tree in an embedded BadgerDB key-value store.
//
// Layout:
//
//	node/<id> -> JSON {parent_id, snapshot, created_at}
//	root/<id> -> empty; one entry per parentless node
//
// The root index makes Roots a prefix scan instead of a full table scan.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"jamsession/looper/internal/history"
)

const (
	nodePrefix = "node/"
	rootPrefix = "root/"
	// rootGuard is read and written by every CreateRoot so that two
	// concurrent attempts conflict instead of both inserting.
	rootGuard = "meta/root-guard"

	conflictRetries = 3
)

// Config holds configuration for a badger-backed store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool

	// SyncWrites fsyncs every commit before it returns.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. Nil disables them.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	GCDiscardRatio float64
}

// DefaultConfig returns durable production settings for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns settings for tests: no disk, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store implements history.Store on top of BadgerDB.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	stopGC chan struct{}
	gcDone chan struct{}
}

var (
	_ history.Store          = (*Store)(nil)
	_ history.PrefixSearcher = (*Store)(nil)
)

type nodeValue struct {
	ParentID  *string `json:"parent_id"`
	Snapshot  []byte  `json:"snapshot"`
	CreatedAt int64   `json:"created_at"`
}

// Open opens (or creates) a store with cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("kv: path is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("kv: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kv: open badger: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			for {
				err := s.db.RunValueLogGC(ratio)
				if err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						s.logger.Warn("kv value log gc", "error", err)
					}
					break
				}
			}
		}
	}
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.gcDone
	}
	return s.db.Close()
}

func nodeKey(id string) []byte { return []byte(nodePrefix + id) }
func rootKey(id string) []byte { return []byte(rootPrefix + id) }

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for range conflictRetries {
		if err := ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getNode(txn *badger.Txn, id string) (nodeValue, error) {
	item, err := txn.Get(nodeKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nodeValue{}, history.ErrNotFound
	}
	if err != nil {
		return nodeValue{}, err
	}
	var v nodeValue
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &v)
	})
	return v, err
}

func putNode(txn *badger.Txn, id string, v nodeValue) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(nodeKey(id), data)
}

func (s *Store) Insert(ctx context.Context, rec history.Record) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := getNode(txn, rec.NodeID); err == nil {
			return history.ErrExists
		} else if !errors.Is(err, history.ErrNotFound) {
			return err
		}
		if rec.ParentID != nil {
			if _, err := getNode(txn, *rec.ParentID); err != nil {
				return fmt.Errorf("parent %s: %w", *rec.ParentID, err)
			}
		}
		v := nodeValue{ParentID: rec.ParentID, Snapshot: rec.Snapshot, CreatedAt: time.Now().UnixMilli()}
		if err := putNode(txn, rec.NodeID, v); err != nil {
			return err
		}
		if rec.ParentID == nil {
			return txn.Set(rootKey(rec.NodeID), nil)
		}
		return nil
	})
}

func (s *Store) CreateRoot(ctx context.Context, rec history.Record) (string, error) {
	var root string
	err := s.update(ctx, func(txn *badger.Txn) error {
		root = ""
		if _, err := txn.Get([]byte(rootGuard)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(rootPrefix)
		it := txn.NewIterator(opts)
		it.Rewind()
		if it.Valid() {
			root = string(it.Item().Key()[len(rootPrefix):])
		}
		it.Close()
		if root != "" {
			return nil
		}

		if _, err := getNode(txn, rec.NodeID); err == nil {
			return history.ErrExists
		} else if !errors.Is(err, history.ErrNotFound) {
			return err
		}
		v := nodeValue{Snapshot: rec.Snapshot, CreatedAt: time.Now().UnixMilli()}
		if err := putNode(txn, rec.NodeID, v); err != nil {
			return err
		}
		if err := txn.Set(rootKey(rec.NodeID), nil); err != nil {
			return err
		}
		root = rec.NodeID
		return txn.Set([]byte(rootGuard), []byte(rec.NodeID))
	})
	if err != nil {
		return "", err
	}
	return root, nil
}

func (s *Store) Get(ctx context.Context, id string) (history.Record, error) {
	var rec history.Record
	err := s.db.View(func(txn *badger.Txn) error {
		v, err := getNode(txn, id)
		if err != nil {
			return err
		}
		rec = history.Record{NodeID: id, ParentID: v.ParentID, Snapshot: v.Snapshot}
		return nil
	})
	return rec, err
}

func (s *Store) ReplaceRoot(ctx context.Context, id string, snapshot []byte) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		v, err := getNode(txn, id)
		if err != nil {
			return err
		}
		if v.ParentID != nil {
			return history.ErrNotFound
		}
		v.Snapshot = snapshot
		return putNode(txn, id, v)
	})
}

func (s *Store) Roots(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(rootPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(rootPrefix):]))
		}
		return nil
	})
	return ids, err
}

func (s *Store) All(ctx context.Context) ([]history.Record, error) {
	var recs []history.Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(nodePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id := string(item.Key()[len(nodePrefix):])
			var v nodeValue
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &v) }); err != nil {
				return fmt.Errorf("decoding %s: %w", id, err)
			}
			recs = append(recs, history.Record{NodeID: id, ParentID: v.ParentID, Snapshot: v.Snapshot})
		}
		return nil
	})
	return recs, err
}

// SearchByIDPrefix returns up to limit node ids starting with prefix, in
// key order. Limit <= 0 means no limit.
func (s *Store) SearchByIDPrefix(ctx context.Context, prefix string, limit int) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = nodeKey(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			ids = append(ids, string(it.Item().Key()[len(nodePrefix):]))
			if limit > 0 && len(ids) == limit {
				break
			}
		}
		return nil
	})
	return ids, err
}
