package manager

import (
	"errors"
	"fmt"
	"time"
)

// unknownModelError: the requested id is not in the backend registry.
// Bad-request class, never retried.
type unknownModelError struct{ id string }

func (e unknownModelError) Error() string { return "unknown model: " + e.id }

// IsUnknownModel reports whether err indicates a model id the backend
// does not know.
func IsUnknownModel(err error) bool {
	var ue unknownModelError
	return errors.As(err, &ue)
}

// loadFailedError: the backend reported a failed load, or rejected the
// load command. Terminal; maps to 502.
type loadFailedError struct {
	id     string
	reason string
}

func (e loadFailedError) Error() string {
	return fmt.Sprintf("model %s failed to load: %s", e.id, e.reason)
}

// IsLoadFailed reports whether err indicates a backend-reported load
// failure.
func IsLoadFailed(err error) bool {
	var le loadFailedError
	return errors.As(err, &le)
}

// loadTimeoutError: the poll loop hit its wall-clock deadline before
// the model reached a terminal state. Maps to 504.
type loadTimeoutError struct {
	id    string
	after time.Duration
}

func (e loadTimeoutError) Error() string {
	return fmt.Sprintf("model %s not loaded after %s", e.id, e.after)
}

// IsLoadTimeout reports whether err indicates a load deadline expiry.
func IsLoadTimeout(err error) bool {
	var te loadTimeoutError
	return errors.As(err, &te)
}
