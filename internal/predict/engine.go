package predict

import (
	"context"
	"fmt"
	"sort"

	"github.com/rcliao/symbol-predict/internal/fingerprint"
	"github.com/rcliao/symbol-predict/internal/model"
	"github.com/rcliao/symbol-predict/internal/store"
)

// Engine ranks the tokens observed after the anchor of a context.
type Engine struct {
	store store.Store
	// Limit caps the number of predictions returned. Zero means no cap.
	Limit int
	// TransitionsOnly restricts aggregation to records of length 2. Set it
	// when longer windows are recorded next to their order-2 windows, which
	// would otherwise count the same transition twice.
	TransitionsOnly bool
}

// NewEngine creates an Engine reading from st.
func NewEngine(st store.Store, limit int) *Engine {
	return &Engine{store: st, Limit: limit}
}

// Aggregate sums, per candidate, the frequencies of every stored transition
// that starts with anchor. Records of order > 2 contribute their second
// element unless TransitionsOnly is set.
func (e *Engine) Aggregate(ctx context.Context, scope, anchor string) (map[string]int, int, error) {
	prefix, err := fingerprint.Encode([]string{anchor})
	if err != nil {
		return nil, 0, err
	}

	records, err := e.store.RangeQuery(ctx, scope, prefix)
	if err != nil {
		return nil, 0, fmt.Errorf("aggregate %s: %w: %w", anchor, ErrStoreUnavailable, err)
	}

	freq := make(map[string]int)
	total := 0
	for _, rec := range records {
		if len(rec.Sequence) < 2 || !fingerprint.HasPrefix(rec.Sequence, []string{anchor}) {
			continue
		}
		if e.TransitionsOnly && len(rec.Sequence) != 2 {
			continue
		}
		freq[rec.Sequence[1]] += rec.Frequency
		total += rec.Frequency
	}
	return freq, total, nil
}

// PredictNext returns the candidates that followed the last token of
// selected, most probable first. An empty selection or an anchor with no
// stored transitions yields an empty list.
func (e *Engine) PredictNext(ctx context.Context, scope string, selected []string) ([]model.Prediction, error) {
	if err := store.ValidateScope(scope); err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return []model.Prediction{}, nil
	}
	for _, id := range selected {
		if err := fingerprint.ValidateID(id); err != nil {
			return nil, err
		}
	}

	freq, total, err := e.Aggregate(ctx, scope, selected[len(selected)-1])
	if err != nil {
		return nil, err
	}

	preds := Rank(freq, total)
	if e.Limit > 0 && len(preds) > e.Limit {
		preds = preds[:e.Limit]
	}
	return preds, nil
}

// Rank normalizes candidate frequencies into probabilities ordered by
// probability descending, then token id ascending.
func Rank(freq map[string]int, total int) []model.Prediction {
	preds := make([]model.Prediction, 0, len(freq))
	if total <= 0 {
		return preds
	}
	for id, n := range freq {
		preds = append(preds, model.Prediction{
			TokenID:     id,
			Probability: float64(n) / float64(total),
		})
	}
	sort.Slice(preds, func(i, j int) bool {
		if preds[i].Probability != preds[j].Probability {
			return preds[i].Probability > preds[j].Probability
		}
		return preds[i].TokenID < preds[j].TokenID
	})
	return preds
}
