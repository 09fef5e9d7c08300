package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rcliao/symbol-predict/internal/fingerprint"
	"github.com/rcliao/symbol-predict/internal/metrics"
	"github.com/rcliao/symbol-predict/internal/model"
	"github.com/rcliao/symbol-predict/internal/store"
)

// RetryConfig bounds the exponential backoff used when the store fails
// during Observe.
type RetryConfig struct {
	// MaxTries counts the first attempt. 1 disables retries.
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns the retry bounds used by the CLI and server.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxTries:        4,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// MaxOrder is the longest sequence Observe accepts. Minimum 2.
	MaxOrder int
	Retry    RetryConfig
	// Now stamps observations. Defaults to time.Now.
	Now func() time.Time
}

// Tracker counts observed sequences. Observe calls on the same
// (scope, fingerprint) are serialized in-process by a per-key lock; writers
// in other processes sharing the database are caught by the store's
// compare-and-put, after which the increment is re-read and re-applied.
//
// Retries re-run the whole read-modify-write. If a write reached the store
// but its result was lost, the retry increments again: counts are
// at-least-once and may be inflated by retried writes.
type Tracker struct {
	store   store.Store
	cfg     TrackerConfig
	locks   *keyLocks
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewTracker creates a Tracker writing to st.
func NewTracker(st store.Store, cfg TrackerConfig, m *metrics.Metrics, logger *slog.Logger) *Tracker {
	if cfg.MaxOrder < 2 {
		cfg.MaxOrder = 2
	}
	if cfg.Retry.MaxTries == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: st, cfg: cfg, locks: newKeyLocks(), metrics: m, logger: logger}
}

// MaxOrder returns the longest sequence the tracker records.
func (t *Tracker) MaxOrder() int {
	return t.cfg.MaxOrder
}

// Observe records one occurrence of seq in scope: the matching record's
// frequency is incremented and its timestamp refreshed, or a record with
// frequency 1 is created. Store failures that survive all retries are
// returned wrapped in ErrStoreUnavailable.
func (t *Tracker) Observe(ctx context.Context, scope string, seq []string) (*model.SequenceRecord, error) {
	if err := store.ValidateScope(scope); err != nil {
		return nil, err
	}
	if len(seq) < 2 || len(seq) > t.cfg.MaxOrder {
		return nil, fmt.Errorf("observe: sequence length %d outside [2, %d]", len(seq), t.cfg.MaxOrder)
	}
	fp, err := fingerprint.Encode(seq)
	if err != nil {
		t.metrics.Observations.WithLabelValues("invalid").Inc()
		return nil, err
	}

	unlock := t.locks.lock(scope + "\x00" + fp)
	defer unlock()

	now := t.cfg.Now().UTC()
	created := false

	op := func() (*model.SequenceRecord, error) {
		for {
			rec, prev, err := t.next(ctx, scope, fp, seq, now)
			if err != nil {
				return nil, err
			}
			created = prev == 0

			err = t.store.CompareAndPut(ctx, rec, prev)
			if errors.Is(err, store.ErrConflict) {
				// Another writer got there first; count on top of its value.
				t.metrics.ObserveConflicts.Inc()
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				continue
			}
			if err != nil {
				return nil, err
			}
			return rec, nil
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.Retry.InitialInterval
	b.MaxInterval = t.cfg.Retry.MaxInterval

	rec, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(t.cfg.Retry.MaxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			t.metrics.ObserveRetries.Inc()
			t.logger.Debug("retrying observe", "scope", scope, "fingerprint", fp, "wait", wait, "error", err)
		}),
	)
	if err != nil {
		t.metrics.Observations.WithLabelValues("dropped").Inc()
		return nil, fmt.Errorf("observe %s: %w: %w", fp, ErrStoreUnavailable, err)
	}

	if created {
		t.metrics.Observations.WithLabelValues("created").Inc()
	} else {
		t.metrics.Observations.WithLabelValues("incremented").Inc()
	}
	return rec, nil
}

// next reads the current record of fp and returns its incremented successor
// along with the frequency it was derived from (0 when the record is new).
func (t *Tracker) next(ctx context.Context, scope, fp string, seq []string, now time.Time) (*model.SequenceRecord, int, error) {
	rec, err := t.store.Get(ctx, scope, fp)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &model.SequenceRecord{
			Scope:       scope,
			Sequence:    slices.Clone(seq),
			Fingerprint: fp,
			Frequency:   1,
			CreatedAt:   now,
			LastSeenAt:  now,
		}, 0, nil
	case err != nil:
		return nil, 0, err
	}
	prev := rec.Frequency
	rec.Frequency++
	rec.LastSeenAt = now
	return rec, prev, nil
}
