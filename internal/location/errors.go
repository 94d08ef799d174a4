package location

import (
	"context"
	"errors"

	apperrors "github.com/askwhyharsh/sonar/pkg/errors"
)

// Kind is the location failure taxonomy.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnsupported
	KindInsecureContext
	KindPermissionDenied
	KindUnavailable
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindUnsupported:
		return "unsupported"
	case KindInsecureContext:
		return "insecure_context"
	case KindPermissionDenied:
		return "permission_denied"
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindUnsupported:
		return apperrors.ErrLocationUnsupported
	case KindInsecureContext:
		return apperrors.ErrInsecureContext
	case KindPermissionDenied:
		return apperrors.ErrPermissionDenied
	case KindUnavailable:
		return apperrors.ErrLocationUnavailable
	case KindTimeout:
		return apperrors.ErrLocationTimeout
	default:
		return apperrors.ErrLocationUnknown
	}
}

// Error is the only error type the provider returns. Message carries the
// platform text for KindUnknown and is empty otherwise.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Kind.sentinel().Error() + ": " + e.Message
	}
	return e.Kind.sentinel().Error()
}

func (e *Error) Unwrap() error {
	return e.Kind.sentinel()
}

func newError(kind Kind) *Error {
	return &Error{Kind: kind}
}

func unknownError(msg string) *Error {
	return &Error{Kind: KindUnknown, Message: msg}
}

// KindOf extracts the kind of a location error.
func KindOf(err error) (Kind, bool) {
	var locErr *Error
	if errors.As(err, &locErr) {
		return locErr.Kind, true
	}
	return KindUnknown, false
}

// classify maps any platform failure onto exactly one kind.
func classify(err error) *Error {
	if err == nil {
		return nil
	}

	var locErr *Error
	if errors.As(err, &locErr) {
		return locErr
	}

	var posErr *PositionError
	if errors.As(err, &posErr) {
		switch posErr.Code {
		case CodePermissionDenied:
			return newError(KindPermissionDenied)
		case CodePositionUnavailable:
			return newError(KindUnavailable)
		case CodeTimeout:
			return newError(KindTimeout)
		default:
			return unknownError(posErr.Message)
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, apperrors.ErrLocationTimeout):
		return newError(KindTimeout)
	case errors.Is(err, apperrors.ErrPermissionDenied):
		return newError(KindPermissionDenied)
	case errors.Is(err, apperrors.ErrLocationUnavailable):
		return newError(KindUnavailable)
	case errors.Is(err, apperrors.ErrLocationUnsupported):
		return newError(KindUnsupported)
	case errors.Is(err, apperrors.ErrInsecureContext):
		return newError(KindInsecureContext)
	default:
		return unknownError(err.Error())
	}
}
