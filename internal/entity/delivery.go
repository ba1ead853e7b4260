package entity

import (
	"fmt"
	"time"
)

// FailureKind is the closed set of transport failures delivery logic acts on.
type FailureKind int

const (
	FailureTransient FailureKind = iota
	FailureBlocked
	FailureNotFound
	FailureThrottled
)

func (k FailureKind) String() string {
	switch k {
	case FailureBlocked:
		return "blocked"
	case FailureNotFound:
		return "not_found"
	case FailureThrottled:
		return "throttled"
	default:
		return "transient"
	}
}

// DeliveryFailure is a transport error reduced to its kind. RetryAfter is set
// only for throttling when the provider sent a hint.
type DeliveryFailure struct {
	Kind       FailureKind
	Code       int
	RetryAfter time.Duration
	Err        error
}

func (f *DeliveryFailure) Error() string {
	if f.Code != 0 {
		return fmt.Sprintf("%s (code %d): %v", f.Kind, f.Code, f.Err)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *DeliveryFailure) Unwrap() error { return f.Err }
