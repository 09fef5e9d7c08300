// Package tokencache memoizes token metadata for one session.
//
// A Cache is populated once by a bulk load and never invalidated on its own;
// tokens changed elsewhere become visible only after Refresh.
package tokencache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/rcliao/symbol-predict/internal/metrics"
	"github.com/rcliao/symbol-predict/internal/model"
	"github.com/rcliao/symbol-predict/internal/store"
)

// ErrCacheMiss is returned by Lookup for ids the cache does not hold.
var ErrCacheMiss = errors.New("token not in cache")

// State is the lifecycle state of a Cache.
type State int

const (
	Uninitialized State = iota
	Loading
	Ready
	Refreshing
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Refreshing:
		return "refreshing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Cache is a read-through id → Token map for a single scope.
type Cache struct {
	source  store.TokenSource
	metrics *metrics.Metrics
	logger  *slog.Logger
	flight  singleflight.Group

	mu     sync.RWMutex
	state  State
	scope  string
	tokens map[string]model.Token
}

// New creates an uninitialized cache backed by source.
func New(source store.TokenSource, m *metrics.Metrics, logger *slog.Logger) *Cache {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{source: source, metrics: m, logger: logger}
}

// Load populates the cache with every token of scope. Concurrent loads of
// the same scope share one fetch. Loading an already ready cache for the
// same scope is a no-op; use Refresh to re-fetch.
func (c *Cache) Load(ctx context.Context, scope string) error {
	c.mu.Lock()
	if c.state == Ready && c.scope == scope {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.fetch(ctx, scope, Loading)
}

// Refresh re-fetches the tokens of the loaded scope.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.RLock()
	scope, state := c.scope, c.state
	c.mu.RUnlock()
	if state != Ready {
		return fmt.Errorf("refresh: cache is %s", state)
	}
	return c.fetch(ctx, scope, Refreshing)
}

func (c *Cache) fetch(ctx context.Context, scope string, transient State) error {
	_, err, _ := c.flight.Do(scope, func() (interface{}, error) {
		c.mu.Lock()
		prevState, prevScope, prev := c.state, c.scope, c.tokens
		c.state = transient
		c.scope = scope
		c.mu.Unlock()

		tokens, err := c.source.LoadTokens(ctx, scope)

		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			// A failed refresh keeps serving the old snapshot.
			c.state, c.scope, c.tokens = prevState, prevScope, prev
			if prevState != Ready {
				c.state = Uninitialized
			}
			c.metrics.CacheLoads.WithLabelValues("error").Inc()
			return nil, err
		}
		c.state = Ready
		c.tokens = tokens
		c.metrics.CacheLoads.WithLabelValues("ok").Inc()
		c.logger.Debug("token cache loaded", "scope", scope, "tokens", len(tokens))
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("load tokens for %s: %w", scope, err)
	}
	return nil
}

// Get returns the token for id. It reports false for unknown ids and for
// every id while the cache is not Ready.
func (c *Cache) Get(id string) (model.Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != Ready {
		return model.Token{}, false
	}
	tok, ok := c.tokens[id]
	return tok, ok
}

// Lookup is Get with an ErrCacheMiss error for absent ids. Misses are
// counted.
func (c *Cache) Lookup(id string) (model.Token, error) {
	tok, ok := c.Get(id)
	if !ok {
		c.metrics.CacheMisses.Inc()
		return tok, fmt.Errorf("%w: %s", ErrCacheMiss, id)
	}
	return tok, nil
}

// State returns the current lifecycle state.
func (c *Cache) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Scope returns the scope the cache holds, if any.
func (c *Cache) Scope() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scope
}

// Len returns the number of cached tokens.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != Ready {
		return 0
	}
	return len(c.tokens)
}
