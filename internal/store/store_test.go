package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/symbol-predict/internal/fingerprint"
	"github.com/rcliao/symbol-predict/internal/model"
)

// backends runs the same behavioural checks against every Backend.
func backends(t *testing.T) map[string]Backend {
	t.Helper()
	b, err := NewBadgerStore(InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	return map[string]Backend{
		BackendSQLite: newTestStore(t),
		BackendBadger: b,
	}
}

func TestRangeQuery(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, seq := range [][]string{
				{"oo", "gusto"},
				{"oo", "ayaw"},
				{"oo", "gusto", "kain"},
				{"ooh", "wow"},
				{"kain", "oo"},
			} {
				require.NoError(t, s.Put(ctx, newRecord(t, "u1", seq, 1, now)))
			}
			require.NoError(t, s.Put(ctx, newRecord(t, "u2", []string{"oo", "hindi"}, 1, now)))

			prefix, _ := fingerprint.Encode([]string{"oo"})
			got, err := s.RangeQuery(ctx, "u1", prefix)
			require.NoError(t, err)

			var keys []string
			for _, r := range got {
				keys = append(keys, r.Fingerprint)
			}
			assert.Equal(t, []string{"oo|ayaw|", "oo|gusto|", "oo|gusto|kain|"}, keys)

			all, err := s.RangeQuery(ctx, "u1", "")
			require.NoError(t, err)
			assert.Len(t, all, 5)

			none, err := s.RangeQuery(ctx, "u3", prefix)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

// Every written record is retrievable by a range query on its own fingerprint.
func TestRangeQueryOwnFingerprint(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 20; i++ {
				seq := []string{fmt.Sprintf("t%d", i%4), fmt.Sprintf("t%d", i)}
				rec := newRecord(t, "u1", seq, 1, time.Now().UTC())
				require.NoError(t, s.Put(ctx, rec))

				got, err := s.RangeQuery(ctx, "u1", rec.Fingerprint)
				require.NoError(t, err)
				require.NotEmpty(t, got)
				assert.Equal(t, rec.Fingerprint, got[0].Fingerprint)
			}
		})
	}
}

func TestCompareAndPut(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			first := newRecord(t, "u1", []string{"oo", "gusto"}, 1, now)
			require.NoError(t, s.CompareAndPut(ctx, first, 0))
			require.NotEmpty(t, first.ID)

			// A second creator loses.
			dup := newRecord(t, "u1", []string{"oo", "gusto"}, 1, now)
			assert.ErrorIs(t, s.CompareAndPut(ctx, dup, 0), ErrConflict)

			// An update based on a stale frequency loses.
			stale := newRecord(t, "u1", []string{"oo", "gusto"}, 5, now)
			assert.ErrorIs(t, s.CompareAndPut(ctx, stale, 4), ErrConflict)

			later := now.Add(time.Minute)
			next := newRecord(t, "u1", []string{"oo", "gusto"}, 2, later)
			next.ID = first.ID
			next.CreatedAt = first.CreatedAt
			require.NoError(t, s.CompareAndPut(ctx, next, 1))

			got, err := s.Get(ctx, "u1", first.Fingerprint)
			require.NoError(t, err)
			assert.Equal(t, 2, got.Frequency)
			assert.Equal(t, first.ID, got.ID)
			assert.True(t, got.LastSeenAt.Equal(later))
			assert.True(t, got.CreatedAt.Equal(first.CreatedAt))
		})
	}
}

// A NUL inside a scope would reach into another scope's key range.
func TestRejectsNULScope(t *testing.T) {
	ctx := context.Background()
	const scope = "u1\x00oo|"

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, newRecord(t, "u1", []string{"oo", "gusto"}, 1, time.Now().UTC())))

			_, err := s.Get(ctx, scope, "gusto|")
			assert.ErrorIs(t, err, ErrInvalidScope)
			_, err = s.RangeQuery(ctx, scope, "")
			assert.ErrorIs(t, err, ErrInvalidScope)
			_, err = s.LoadTokens(ctx, scope)
			assert.ErrorIs(t, err, ErrInvalidScope)
			err = s.CompareAndPut(ctx, newRecord(t, scope, []string{"a", "b"}, 1, time.Now()), 0)
			assert.ErrorIs(t, err, ErrInvalidScope)
		})
	}
}

func TestTokens(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutToken(ctx, "u1", model.Token{ID: "oo", Label: "Oo", Meta: `{"img":"yes.png"}`}))
			require.NoError(t, s.PutToken(ctx, "u1", model.Token{ID: "gusto", Label: "Gusto"}))
			require.NoError(t, s.PutToken(ctx, "u1", model.Token{ID: "gusto", Label: "Gusto ko"}))
			require.NoError(t, s.PutToken(ctx, "u2", model.Token{ID: "ayaw", Label: "Ayaw"}))

			tokens, err := s.LoadTokens(ctx, "u1")
			require.NoError(t, err)
			assert.Len(t, tokens, 2)
			assert.Equal(t, "Gusto ko", tokens["gusto"].Label)
			assert.Equal(t, `{"img":"yes.png"}`, tokens["oo"].Meta)

			err = s.PutToken(ctx, "u1", model.Token{ID: "a|b", Label: "bad"})
			var verr *fingerprint.ValidationError
			assert.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
		})
	}
}

func TestBadgerStats(t *testing.T) {
	ctx := context.Background()
	s, err := NewBadgerStore(InMemoryBadgerConfig())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, newRecord(t, "u1", []string{"oo", "gusto"}, 2, time.Now())))
	require.NoError(t, s.Put(ctx, newRecord(t, "u1", []string{"oo", "ayaw"}, 1, time.Now())))
	require.NoError(t, s.PutToken(ctx, "u2", model.Token{ID: "oo", Label: "Oo"}))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, BackendBadger, st.Backend)
	assert.Equal(t, 2, st.TotalRecords)
	assert.Equal(t, 1, st.TotalTokens)
	require.Len(t, st.Scopes, 2)
	assert.Equal(t, ScopeStats{Scope: "u1", Records: 2, TotalFrequency: 3}, st.Scopes[0])
	assert.Equal(t, ScopeStats{Scope: "u2", Tokens: 1}, st.Scopes[1])
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("postgres", t.TempDir(), nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown backend"))
}
