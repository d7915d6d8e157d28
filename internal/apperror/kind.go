package apperror

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// Kind is the user-facing category of a failure.
type Kind string

const (
	KindNetwork     Kind = "network"
	KindPermission  Kind = "permission"
	KindEntitlement Kind = "entitlement"
	KindValidation  Kind = "validation"
	KindUnknown     Kind = "unknown"
)

// Message is the notice shown to a user for a failure of this kind.
func (k Kind) Message() string {
	switch k {
	case KindNetwork:
		return "Changes couldn't be saved, we'll keep trying"
	case KindPermission:
		return "Please sign in again"
	case KindEntitlement:
		return "Free plan limit reached. Upgrade to add more buckets"
	case KindValidation:
		return "Some values were invalid and have been corrected"
	default:
		return "Something went wrong"
	}
}

// Classify maps any error onto a Kind. Sentinels of this package and of the
// standard library are recognised through wrapping.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Kind != "" {
		return appErr.Kind
	}

	switch {
	case errors.Is(err, ErrPlanLimit):
		return KindEntitlement
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrForbidden),
		errors.Is(err, ErrReauthenticate), errors.Is(err, ErrInvalidCredentials):
		return KindPermission
	case errors.Is(err, ErrValidation), errors.Is(err, ErrBadRequest):
		return KindValidation
	case errors.Is(err, ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return KindNetwork
	case errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return KindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	return KindUnknown
}

// IsRetryable reports whether retrying the failed operation may succeed.
// Only network-class failures qualify.
func IsRetryable(err error) bool {
	return Classify(err) == KindNetwork
}
