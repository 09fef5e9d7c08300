package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsesOwnRegistry(t *testing.T) {
	a, b := New(), New()
	a.Observations.WithLabelValues("created").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.Observations.WithLabelValues("created")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Observations.WithLabelValues("created")))
}

func TestExposition(t *testing.T) {
	m := New()
	m.CacheMisses.Inc()
	m.Queries.WithLabelValues("predict", "ok").Inc()

	err := testutil.GatherAndCompare(m.Registry, strings.NewReader(`
# HELP symbol_predict_token_cache_misses_total Token ids referenced by a match but absent from the cache.
# TYPE symbol_predict_token_cache_misses_total counter
symbol_predict_token_cache_misses_total 1
`), "symbol_predict_token_cache_misses_total")
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(m.Registry, "symbol_predict_queries_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
