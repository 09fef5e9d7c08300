package predict

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/symbol-predict/internal/model"
)

func TestPredictNextNormalizes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, "u1", 3, "A", "B")
	seed(t, s, "u1", 1, "A", "C")
	seed(t, s, "u1", 7, "B", "C")
	seed(t, s, "u2", 9, "A", "D")

	e := NewEngine(s, 0)
	got, err := e.PredictNext(ctx, "u1", []string{"X", "Y", "A"})
	require.NoError(t, err)
	assert.Equal(t, []model.Prediction{
		{TokenID: "B", Probability: 0.75},
		{TokenID: "C", Probability: 0.25},
	}, got)
}

func TestPredictNextEmpty(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, "u1", 2, "A", "B")
	e := NewEngine(s, 0)

	got, err := e.PredictNext(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = e.PredictNext(ctx, "u1", []string{"B"})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestPredictNextTieBreak(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, "u1", 2, "A", "zebra")
	seed(t, s, "u1", 2, "A", "apple")
	seed(t, s, "u1", 2, "A", "mango")
	seed(t, s, "u1", 4, "A", "kiwi")

	got, err := NewEngine(s, 0).PredictNext(ctx, "u1", []string{"A"})
	require.NoError(t, err)

	var ids []string
	for _, p := range got {
		ids = append(ids, p.TokenID)
	}
	assert.Equal(t, []string{"kiwi", "apple", "mango", "zebra"}, ids)
}

func TestPredictNextSumsToOne(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 1; i <= 13; i++ {
		seed(t, s, "u1", i, "A", fmt.Sprintf("t%02d", i))
	}

	got, err := NewEngine(s, 0).PredictNext(ctx, "u1", []string{"A"})
	require.NoError(t, err)
	require.Len(t, got, 13)

	sum := 0.0
	for i, p := range got {
		assert.GreaterOrEqual(t, p.Probability, 0.0)
		assert.LessOrEqual(t, p.Probability, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, got[i-1].Probability, p.Probability)
		}
		sum += p.Probability
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestPredictNextLongerRecords(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, "u1", 1, "A", "B", "C")
	seed(t, s, "u1", 1, "A", "C")
	// "AB" shares a string prefix with "A" but is a different token.
	seed(t, s, "u1", 5, "AB", "C")

	got, err := NewEngine(s, 0).PredictNext(ctx, "u1", []string{"A"})
	require.NoError(t, err)
	assert.Equal(t, []model.Prediction{
		{TokenID: "B", Probability: 0.5},
		{TokenID: "C", Probability: 0.5},
	}, got)
}

func TestPredictNextTransitionsOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, "u1", 1, "A", "B")
	seed(t, s, "u1", 1, "A", "B", "C")
	seed(t, s, "u1", 1, "A", "C")

	e := NewEngine(s, 0)
	e.TransitionsOnly = true
	got, err := e.PredictNext(ctx, "u1", []string{"A"})
	require.NoError(t, err)
	assert.Equal(t, []model.Prediction{
		{TokenID: "B", Probability: 0.5},
		{TokenID: "C", Probability: 0.5},
	}, got)

	freq, total, err := e.Aggregate(ctx, "u1", "A")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, map[string]int{"B": 1, "C": 1}, freq)
}

func TestPredictNextLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, "u1", 3, "A", "B")
	seed(t, s, "u1", 2, "A", "C")
	seed(t, s, "u1", 1, "A", "D")

	got, err := NewEngine(s, 2).PredictNext(ctx, "u1", []string{"A"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].TokenID)
	assert.InDelta(t, 0.5, got[0].Probability, 1e-9)
}

func TestPredictNextErrors(t *testing.T) {
	ctx := context.Background()
	fs := &flakyStore{Store: newTestStore(t), down: true}
	e := NewEngine(fs, 0)

	_, err := e.PredictNext(ctx, "u1", []string{"A"})
	assert.True(t, errors.Is(err, ErrStoreUnavailable))

	_, err = e.PredictNext(ctx, "u1", []string{"A|B"})
	assert.True(t, IsValidation(err))
}

func TestRank(t *testing.T) {
	assert.Empty(t, Rank(map[string]int{"A": 0}, 0))

	got := Rank(map[string]int{"gusto": 2, "ayaw": 1}, 3)
	require.Len(t, got, 2)
	assert.Equal(t, "gusto", got[0].TokenID)
	assert.Equal(t, 0.667, math.Round(got[0].Probability*1000)/1000)
	assert.Equal(t, 0.333, math.Round(got[1].Probability*1000)/1000)
}
