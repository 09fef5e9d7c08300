package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/rcliao/symbol-predict/internal/fingerprint"
	"github.com/rcliao/symbol-predict/internal/model"
)

// Key layout:
//
//	seq/<scope>\x00<fingerprint> -> JSON SequenceRecord
//	tok/<scope>\x00<token id>    -> JSON Token
//
// Fingerprints sort lexicographically inside a scope, so a prefix scan over
// seq/<scope>\x00<prefix> is a fingerprint range query.
const (
	seqKeyPrefix = "seq/"
	tokKeyPrefix = "tok/"
)

// BadgerConfig holds configuration for a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	SyncWrites bool

	// Logger receives Badger's internal logs. Nil disables them.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval     time.Duration
	GCDiscardRatio float64
}

// DefaultBadgerConfig returns production defaults.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns a configuration suited to tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface. Badger's
// info output is chatty on open and close, so it is logged at debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// BadgerStore implements Backend on an embedded BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	path   string
	logger *slog.Logger
	stopGC chan struct{}
	gcDone chan struct{}
}

// NewBadgerStore opens a BadgerDB with the given configuration and starts
// value log GC when configured.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.Default()
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &BadgerStore{db: db, path: cfg.Path, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means there was nothing to collect.
			if err := s.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log GC failed", slog.String("error", err.Error()))
			}
		}
	}
}

func seqKey(scope, fp string) []byte {
	return []byte(seqKeyPrefix + scope + "\x00" + fp)
}

func tokKey(scope, id string) []byte {
	return []byte(tokKeyPrefix + scope + "\x00" + id)
}

func (s *BadgerStore) Get(ctx context.Context, scope, fp string) (*model.SequenceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateScope(scope); err != nil {
		return nil, err
	}

	var rec model.SequenceRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(seqKey(scope, fp))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence: %w", err)
	}
	return &rec, nil
}

func (s *BadgerStore) Put(ctx context.Context, rec *model.SequenceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateScope(rec.Scope); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		key := seqKey(rec.Scope, rec.Fingerprint)

		// id and created_at belong to the first observation and survive updates.
		item, err := txn.Get(key)
		switch {
		case err == nil:
			var prev model.SequenceRecord
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &prev) }); err != nil {
				return err
			}
			rec.ID = prev.ID
			rec.CreatedAt = prev.CreatedAt
		case errors.Is(err, badger.ErrKeyNotFound):
			if rec.ID == "" {
				rec.ID = newID()
			}
			if rec.CreatedAt.IsZero() {
				rec.CreatedAt = rec.LastSeenAt
			}
		default:
			return err
		}

		b, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(key, b)
	})
	if err != nil {
		return fmt.Errorf("put sequence: %w", err)
	}
	return nil
}

// CompareAndPut checks the stored frequency and writes inside one
// transaction. Badger's conflict detection also rejects the commit if
// another transaction wrote the key in between.
func (s *BadgerStore) CompareAndPut(ctx context.Context, rec *model.SequenceRecord, prev int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateScope(rec.Scope); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		key := seqKey(rec.Scope, rec.Fingerprint)

		current := 0
		item, err := txn.Get(key)
		switch {
		case err == nil:
			var stored model.SequenceRecord
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &stored) }); err != nil {
				return err
			}
			current = stored.Frequency
			rec.ID = stored.ID
			rec.CreatedAt = stored.CreatedAt
		case errors.Is(err, badger.ErrKeyNotFound):
			if rec.ID == "" {
				rec.ID = newID()
			}
			if rec.CreatedAt.IsZero() {
				rec.CreatedAt = rec.LastSeenAt
			}
		default:
			return err
		}
		if current != prev {
			return ErrConflict
		}

		b, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(key, b)
	})
	if errors.Is(err, ErrConflict) || errors.Is(err, badger.ErrConflict) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("compare and put sequence: %w", err)
	}
	return nil
}

func (s *BadgerStore) RangeQuery(ctx context.Context, scope, prefix string) ([]model.SequenceRecord, error) {
	if err := ValidateScope(scope); err != nil {
		return nil, err
	}
	var records []model.SequenceRecord
	err := s.db.View(func(txn *badger.Txn) error {
		p := seqKey(scope, prefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec model.SequenceRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("range query: %w", err)
	}
	return records, nil
}

func (s *BadgerStore) PutToken(ctx context.Context, scope string, tok model.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateScope(scope); err != nil {
		return err
	}
	if err := fingerprint.ValidateID(tok.ID); err != nil {
		return err
	}

	b, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(tokKey(scope, tok.ID), b)
	})
	if err != nil {
		return fmt.Errorf("put token: %w", err)
	}
	return nil
}

func (s *BadgerStore) LoadTokens(ctx context.Context, scope string) (map[string]model.Token, error) {
	if err := ValidateScope(scope); err != nil {
		return nil, err
	}
	tokens := make(map[string]model.Token)
	err := s.db.View(func(txn *badger.Txn) error {
		p := tokKey(scope, "")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var tok model.Token
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &tok)
			}); err != nil {
				return err
			}
			tokens[tok.ID] = tok
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	return tokens, nil
}

// Stats returns database statistics.
func (s *BadgerStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Backend: BackendBadger, DBPath: s.path}
	lsm, vlog := s.db.Size()
	st.DBSizeBytes = lsm + vlog

	scopes := map[string]*ScopeStats{}
	get := func(scope string) *ScopeStats {
		if ss, ok := scopes[scope]; ok {
			return ss
		}
		ss := &ScopeStats{Scope: scope}
		scopes[scope] = ss
		return ss
	}

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := string(it.Item().Key())
			switch {
			case strings.HasPrefix(key, seqKeyPrefix):
				var rec model.SequenceRecord
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &rec)
				}); err != nil {
					return err
				}
				ss := get(rec.Scope)
				ss.Records++
				ss.TotalFrequency += rec.Frequency
				st.TotalRecords++
			case strings.HasPrefix(key, tokKeyPrefix):
				scope, _, _ := strings.Cut(strings.TrimPrefix(key, tokKeyPrefix), "\x00")
				get(scope).Tokens++
				st.TotalTokens++
			}
		}
		return nil
	})
	if err != nil {
		return st, err
	}

	st.Scopes = sortedScopes(scopes)
	return st, nil
}

func (s *BadgerStore) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.gcDone
	}
	return s.db.Close()
}
