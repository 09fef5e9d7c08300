package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rcliao/symbol-predict/internal/fingerprint"
	"github.com/rcliao/symbol-predict/internal/metrics"
	"github.com/rcliao/symbol-predict/internal/model"
	"github.com/rcliao/symbol-predict/internal/store"
	"github.com/rcliao/symbol-predict/internal/tokencache"
)

// Notes attached to degraded query results.
const (
	NoteStoreUnavailable  = "sequence store unavailable; showing no predictions"
	NoteTokensUnavailable = "symbol labels unavailable; unlabeled candidates were left out"
)

// Config configures a Service.
type Config struct {
	MaxOrder     int
	QueryTimeout time.Duration
	Retry        RetryConfig
	// TopN caps PredictNext results. Zero means no cap.
	TopN int
	Now  func() time.Time
}

// RecordResult reports what a selection wrote.
type RecordResult struct {
	Scope    string                 `json:"scope"`
	Token    string                 `json:"token"`
	Records  []model.SequenceRecord `json:"records"`
	Warnings []string               `json:"warnings,omitempty"`
}

// PredictResult holds ranked next-token candidates.
type PredictResult struct {
	Scope       string             `json:"scope"`
	Context     []string           `json:"context"`
	Predictions []model.Prediction `json:"predictions"`
	Note        string             `json:"note,omitempty"`
}

// Service is the entry point used by the application layer. It wires the
// tracker, engine and explainer to one store and keeps one token cache per
// scope.
type Service struct {
	tokens    store.TokenSource
	tracker   *Tracker
	engine    *Engine
	explainer *Explainer
	cfg       Config
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu     sync.Mutex
	caches map[string]*tokencache.Cache
}

// NewService creates a Service. tokens may be nil, in which case every
// token lookup misses.
func NewService(st store.Store, tokens store.TokenSource, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Service {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 2 * time.Second
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	tracker := NewTracker(st, TrackerConfig{
		MaxOrder: cfg.MaxOrder,
		Retry:    cfg.Retry,
		Now:      cfg.Now,
	}, m, logger)
	engine := NewEngine(st, cfg.TopN)
	// Every longer window is recorded together with its order-2 window.
	engine.TransitionsOnly = tracker.MaxOrder() > 2

	return &Service{
		tokens:    tokens,
		tracker:   tracker,
		engine:    engine,
		explainer: NewExplainer(st, engine),
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		caches:    make(map[string]*tokencache.Cache),
	}
}

// RecordSelection records that token was selected after selected. For every
// order n up to the configured maximum with enough preceding context, the
// window of the last n-1 selected ids plus token is observed. Invalid ids
// fail the call; store failures that outlive retries only produce warnings.
func (s *Service) RecordSelection(ctx context.Context, scope string, selected []string, token string) (*RecordResult, error) {
	if err := store.ValidateScope(scope); err != nil {
		return nil, err
	}
	if err := fingerprint.ValidateID(token); err != nil {
		s.metrics.Observations.WithLabelValues("invalid").Inc()
		return nil, err
	}
	for _, id := range selected {
		if err := fingerprint.ValidateID(id); err != nil {
			s.metrics.Observations.WithLabelValues("invalid").Inc()
			return nil, err
		}
	}

	windows := Windows(selected, token, s.tracker.MaxOrder())
	records := make([]*model.SequenceRecord, len(windows))
	errs := make([]error, len(windows))

	var g errgroup.Group
	for i, w := range windows {
		g.Go(func() error {
			records[i], errs[i] = s.tracker.Observe(ctx, scope, w)
			return nil
		})
	}
	g.Wait()

	res := &RecordResult{Scope: scope, Token: token, Records: []model.SequenceRecord{}}
	for i, err := range errs {
		switch {
		case err == nil:
			res.Records = append(res.Records, *records[i])
		case errors.Is(err, ErrStoreUnavailable):
			s.logger.Warn("dropped observation", "scope", scope, "window", windows[i], "error", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("increment of %v dropped: %v", windows[i], err))
		default:
			return nil, err
		}
	}
	return res, nil
}

// Windows returns the sequences a selection of token after selected
// completes, shortest first.
func Windows(selected []string, token string, maxOrder int) [][]string {
	var out [][]string
	for n := 2; n <= maxOrder && n-1 <= len(selected); n++ {
		w := slices.Clone(selected[len(selected)-(n-1):])
		out = append(out, append(w, token))
	}
	return out
}

// PredictNext ranks the likely next tokens after selected. Store failures
// and timeouts yield an empty result with a note instead of an error.
func (s *Service) PredictNext(ctx context.Context, scope string, selected []string) (*PredictResult, error) {
	start := time.Now()
	defer func() {
		s.metrics.QueryDuration.WithLabelValues("predict").Observe(time.Since(start).Seconds())
	}()

	if err := store.ValidateScope(scope); err != nil {
		return nil, err
	}

	res := &PredictResult{Scope: scope, Context: slices.Clone(selected), Predictions: []model.Prediction{}}
	if res.Context == nil {
		res.Context = []string{}
	}

	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	preds, err := s.engine.PredictNext(qctx, scope, selected)
	if err != nil {
		if IsValidation(err) {
			return nil, err
		}
		s.logger.Warn("prediction degraded", "scope", scope, "error", err)
		s.metrics.Queries.WithLabelValues("predict", "degraded").Inc()
		res.Note = NoteStoreUnavailable
		return res, nil
	}

	if len(preds) > 0 {
		if cache, err := s.cache(qctx, scope); err == nil {
			for i := range preds {
				if tok, ok := cache.Get(preds[i].TokenID); ok {
					preds[i].Label = tok.Label
				}
			}
		}
		s.metrics.Queries.WithLabelValues("predict", "ok").Inc()
	} else {
		s.metrics.Queries.WithLabelValues("predict", "empty").Inc()
	}
	res.Predictions = preds
	return res, nil
}

// Explain describes the stored sequences behind a prediction for selected.
// Store failures and timeouts yield an empty explanation with a note.
func (s *Service) Explain(ctx context.Context, scope string, selected []string) (*model.Explanation, error) {
	start := time.Now()
	defer func() {
		s.metrics.QueryDuration.WithLabelValues("explain").Observe(time.Since(start).Seconds())
	}()

	if err := store.ValidateScope(scope); err != nil {
		return nil, err
	}

	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	var labels Labels
	note := ""
	cache, err := s.cache(qctx, scope)
	if err != nil {
		s.logger.Warn("token cache unavailable", "scope", scope, "error", err)
		note = NoteTokensUnavailable
	} else {
		labels = cacheLabels{cache}
	}

	exp, err := s.explainer.Explain(qctx, scope, selected, labels)
	if err != nil {
		if IsValidation(err) {
			return nil, err
		}
		s.logger.Warn("explanation degraded", "scope", scope, "error", err)
		s.metrics.Queries.WithLabelValues("explain", "degraded").Inc()
		return &model.Explanation{
			Context:     append([]string{}, selected...),
			Matches:     []model.Match{},
			Transitions: []model.Transition{},
			Top:         []model.Prediction{},
			Narrative:   "Explanation unavailable right now.",
			Note:        NoteStoreUnavailable,
		}, nil
	}

	exp.Note = note
	if len(exp.Matches) == 0 && exp.Total == 0 {
		s.metrics.Queries.WithLabelValues("explain", "empty").Inc()
	} else {
		s.metrics.Queries.WithLabelValues("explain", "ok").Inc()
	}
	return exp, nil
}

// cacheLabels resolves labels through Lookup so that misses are counted.
type cacheLabels struct {
	cache *tokencache.Cache
}

func (l cacheLabels) Get(id string) (model.Token, bool) {
	tok, err := l.cache.Lookup(id)
	return tok, err == nil
}

// LoadTokens loads (or returns the already loaded) token cache of scope.
func (s *Service) LoadTokens(ctx context.Context, scope string) (*tokencache.Cache, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	return s.cache(ctx, scope)
}

// RefreshTokens re-fetches the token cache of scope so that tokens changed
// since the first load become visible.
func (s *Service) RefreshTokens(ctx context.Context, scope string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	cache, err := s.cache(ctx, scope)
	if err != nil {
		return err
	}
	return cache.Refresh(ctx)
}

func (s *Service) cache(ctx context.Context, scope string) (*tokencache.Cache, error) {
	if s.tokens == nil {
		return nil, errors.New("no token source configured")
	}

	s.mu.Lock()
	c, ok := s.caches[scope]
	if !ok {
		c = tokencache.New(s.tokens, s.metrics, s.logger)
		s.caches[scope] = c
	}
	s.mu.Unlock()

	if err := c.Load(ctx, scope); err != nil {
		return nil, err
	}
	return c, nil
}
