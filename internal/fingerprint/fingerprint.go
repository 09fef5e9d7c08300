// Package fingerprint encodes ordered token-id sequences into sortable,
// prefix-preserving string keys.
//
// Every id is written followed by Separator, so Encode(A) is a string prefix
// of Encode(B) exactly when A is an element-wise prefix of B. This only holds
// if no id contains Separator, which Encode and ValidateID enforce.
package fingerprint

import (
	"fmt"
	"strings"
)

// Separator terminates every id inside a fingerprint. Token ids must not
// contain it.
const Separator = "|"

// ValidationError reports a token id that cannot be encoded.
type ValidationError struct {
	ID     string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid token id %q: %s", e.ID, e.Reason)
}

// ValidateID checks that id is non-empty and free of the separator.
func ValidateID(id string) error {
	if id == "" {
		return &ValidationError{ID: id, Reason: "empty"}
	}
	if strings.Contains(id, Separator) {
		return &ValidationError{ID: id, Reason: fmt.Sprintf("contains reserved separator %q", Separator)}
	}
	return nil
}

// Encode returns the fingerprint of seq. The empty sequence encodes to "",
// which is a prefix of every fingerprint.
func Encode(seq []string) (string, error) {
	var b strings.Builder
	for _, id := range seq {
		if err := ValidateID(id); err != nil {
			return "", err
		}
		b.WriteString(id)
		b.WriteString(Separator)
	}
	return b.String(), nil
}

// Decode splits a fingerprint produced by Encode back into its ids.
func Decode(key string) ([]string, error) {
	if key == "" {
		return nil, nil
	}
	if !strings.HasSuffix(key, Separator) {
		return nil, fmt.Errorf("malformed fingerprint %q: missing trailing separator", key)
	}
	ids := strings.Split(strings.TrimSuffix(key, Separator), Separator)
	for _, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("malformed fingerprint %q: empty id", key)
		}
	}
	return ids, nil
}

// PrefixEnd returns the exclusive upper bound of the range of keys starting
// with prefix, or "" when the range is unbounded (empty prefix).
func PrefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

// HasPrefix reports whether seq starts with prefix element by element.
func HasPrefix(seq, prefix []string) bool {
	if len(prefix) > len(seq) {
		return false
	}
	for i := range prefix {
		if seq[i] != prefix[i] {
			return false
		}
	}
	return true
}
