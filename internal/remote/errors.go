package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a remote failure.
type Kind int

const (
	// KindTransient covers timeouts, refused connections and 5xx responses.
	// The sale or catalog state is unchanged; the next cycle retries.
	KindTransient Kind = iota
	// KindPermanent covers 4xx validation rejections. Retrying without
	// human intervention cannot succeed.
	KindPermanent
)

// Error is a classified remote failure.
type Error struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote: %v (status %d)", e.Err, e.Status)
	}
	return fmt.Sprintf("remote: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable remote failure.
func IsTransient(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindTransient
}

// IsPermanent reports whether err is a non-retryable remote rejection.
func IsPermanent(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindPermanent
}

// classifyStatus maps an HTTP status to a classified error.
// Status >= 500 is transient, 4xx is permanent.
func classifyStatus(status int, op string) error {
	kind := KindTransient
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		kind = KindPermanent
	}
	return &Error{
		Kind:   kind,
		Status: status,
		Err:    fmt.Errorf("%s: unexpected status", op),
	}
}
