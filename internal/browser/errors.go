package browser

import (
	"errors"
	"fmt"
	"time"
)

// TimeoutError reports that a single engine operation exceeded its
// timeout. It is distinct from other automation failures so callers can
// drive selector fallback chains off it.
type TimeoutError struct {
	Op       string
	Selector string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Selector == "" {
		return fmt.Sprintf("browser: %s timed out after %s", e.Op, e.Timeout)
	}
	return fmt.Sprintf("browser: %s %q timed out after %s", e.Op, e.Selector, e.Timeout)
}

// IsTimeout reports whether err is an engine operation timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
