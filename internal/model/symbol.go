// Package model defines the core prediction data types.
package model

import "time"

// Token is a selectable communication symbol.
type Token struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Meta  string `json:"meta,omitempty"`
}

// SequenceRecord counts how often an ordered token sequence was observed
// within a scope. Records are unique by (Scope, Fingerprint).
type SequenceRecord struct {
	ID          string    `json:"id"`
	Scope       string    `json:"scope"`
	Sequence    []string  `json:"sequence"`
	Fingerprint string    `json:"fingerprint"`
	Frequency   int       `json:"frequency"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// Prediction is a candidate next token with its normalized probability.
type Prediction struct {
	TokenID     string  `json:"token_id"`
	Label       string  `json:"label,omitempty"`
	Probability float64 `json:"probability"`
}

// Match is a stored sequence that extends the caller's context.
type Match struct {
	Sequence     []string `json:"sequence"`
	Frequency    int      `json:"frequency"`
	Continuation []string `json:"continuation"`
}

// Transition is an aggregated order-2 step from the anchor to a candidate.
type Transition struct {
	From      string `json:"from"`
	To        string `json:"to"`
	FromLabel string `json:"from_label"`
	ToLabel   string `json:"to_label"`
	Frequency int    `json:"frequency"`
}

// Explanation is the rationale behind a prediction.
type Explanation struct {
	Context     []string     `json:"context"`
	Matches     []Match      `json:"matches"`
	Transitions []Transition `json:"transitions"`
	Total       int          `json:"total"`
	Top         []Prediction `json:"top"`
	Narrative   string       `json:"narrative"`
	Note        string       `json:"note,omitempty"`
}
