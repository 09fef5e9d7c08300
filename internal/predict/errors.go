// Package predict records symbol selections and turns the accumulated
// transition counts into ranked next-symbol predictions and explanations.
package predict

import (
	"errors"

	"github.com/rcliao/symbol-predict/internal/fingerprint"
	"github.com/rcliao/symbol-predict/internal/store"
)

// ErrStoreUnavailable marks a failure of the backing store: an I/O error, a
// timeout, or retries that ran out.
var ErrStoreUnavailable = errors.New("store unavailable")

// IsValidation reports whether err is caused by an invalid token id or
// scope.
func IsValidation(err error) bool {
	var verr *fingerprint.ValidationError
	return errors.As(err, &verr) || errors.Is(err, store.ErrInvalidScope)
}
