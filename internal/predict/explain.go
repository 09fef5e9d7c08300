package predict

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rcliao/symbol-predict/internal/fingerprint"
	"github.com/rcliao/symbol-predict/internal/model"
	"github.com/rcliao/symbol-predict/internal/store"
)

// TopPredictions is how many predictions an explanation lists.
const TopPredictions = 3

// Labels resolves token ids to tokens. tokencache.Cache implements it.
type Labels interface {
	Get(id string) (model.Token, bool)
}

type noLabels struct{}

func (noLabels) Get(string) (model.Token, bool) { return model.Token{}, false }

// Explainer shows which stored sequences back a prediction.
type Explainer struct {
	store  store.Store
	engine *Engine
}

// NewExplainer creates an Explainer sharing engine's aggregation.
func NewExplainer(st store.Store, engine *Engine) *Explainer {
	return &Explainer{store: st, engine: engine}
}

// Explain returns every stored sequence extending selected, the anchor's
// transitions and a narrative. A match is left out when any of its ids is
// unknown to labels; so is a transition or prediction whose candidate is.
func (x *Explainer) Explain(ctx context.Context, scope string, selected []string, labels Labels) (*model.Explanation, error) {
	exp := &model.Explanation{
		Context:     append([]string{}, selected...),
		Matches:     []model.Match{},
		Transitions: []model.Transition{},
		Top:         []model.Prediction{},
	}
	if labels == nil {
		labels = noLabels{}
	}
	if err := store.ValidateScope(scope); err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		exp.Narrative = "No symbols selected yet."
		return exp, nil
	}

	prefix, err := fingerprint.Encode(selected)
	if err != nil {
		return nil, err
	}
	records, err := x.store.RangeQuery(ctx, scope, prefix)
	if err != nil {
		return nil, fmt.Errorf("explain: %w: %w", ErrStoreUnavailable, err)
	}
	exp.Matches = matches(records, selected, labels)

	anchor := selected[len(selected)-1]
	freq, total, err := x.engine.Aggregate(ctx, scope, anchor)
	if err != nil {
		return nil, err
	}
	exp.Total = total

	anchorLabel := label(anchor, labels)
	for _, p := range Rank(freq, total) {
		tok, ok := labels.Get(p.TokenID)
		if !ok {
			continue
		}
		exp.Transitions = append(exp.Transitions, model.Transition{
			From:      anchor,
			To:        p.TokenID,
			FromLabel: anchorLabel,
			ToLabel:   tok.Label,
			Frequency: freq[p.TokenID],
		})
		if len(exp.Top) < TopPredictions {
			p.Label = tok.Label
			exp.Top = append(exp.Top, p)
		}
	}

	exp.Narrative = Narrate(anchorLabel, exp)
	return exp, nil
}

func matches(records []model.SequenceRecord, selected []string, labels Labels) []model.Match {
	n := len(selected)
	out := []model.Match{}
	for _, rec := range records {
		if !fingerprint.HasPrefix(rec.Sequence, selected) {
			continue
		}
		known := true
		for _, id := range rec.Sequence {
			if _, ok := labels.Get(id); !ok {
				known = false
				break
			}
		}
		if !known {
			continue
		}
		out = append(out, model.Match{
			Sequence:     rec.Sequence,
			Frequency:    rec.Frequency,
			Continuation: append([]string{}, rec.Sequence[n:]...),
		})
	}
	// RangeQuery returns fingerprint order; a stable sort keeps it for ties.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Frequency > out[j].Frequency
	})
	return out
}

// Narrate renders the human-readable rationale of an explanation.
func Narrate(anchorLabel string, exp *model.Explanation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Last selected symbol: %q.\n", anchorLabel)

	if exp.Total == 0 {
		fmt.Fprintf(&b, "Nothing has been selected after %q yet.\n", anchorLabel)
		fmt.Fprintf(&b, "Matching sequences: %d.", len(exp.Matches))
		return b.String()
	}

	fmt.Fprintf(&b, "%q was followed by another symbol %s in total, across %d distinct transitions:\n",
		anchorLabel, times(exp.Total), len(exp.Transitions))
	for _, tr := range exp.Transitions {
		fmt.Fprintf(&b, "  %s → %s (%s)\n", tr.FromLabel, tr.ToLabel, times(tr.Frequency))
	}

	if len(exp.Top) > 0 {
		parts := make([]string, len(exp.Top))
		for i, p := range exp.Top {
			parts[i] = fmt.Sprintf("%s (%d%%)", p.Label, int(math.Round(p.Probability*100)))
		}
		fmt.Fprintf(&b, "Top predictions: %s.\n", strings.Join(parts, ", "))
	}
	fmt.Fprintf(&b, "Matching sequences: %d.", len(exp.Matches))
	return b.String()
}

func times(n int) string {
	if n == 1 {
		return "1 time"
	}
	return fmt.Sprintf("%d times", n)
}

func label(id string, labels Labels) string {
	if tok, ok := labels.Get(id); ok && tok.Label != "" {
		return tok.Label
	}
	return id
}
