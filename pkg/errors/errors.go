package errors

import (
	"errors"
	"net/http"
)

var (
	// Location errors
	ErrLocationUnsupported = errors.New("geolocation is not supported on this device")
	ErrInsecureContext     = errors.New("geolocation requires a secure context")
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrLocationTimeout     = errors.New("location request timed out")
	ErrLocationUnknown     = errors.New("unknown location error")

	// Match errors
	ErrQueryFailed     = errors.New("nearby query failed")
	ErrUnauthenticated = errors.New("no authenticated user")

	// Persist errors
	ErrWriteFailed = errors.New("failed to save location")

	// Session errors
	ErrSessionNotFound    = errors.New("session not found")
	ErrMaxUsernameChanges = errors.New("maximum username changes reached")

	// Validation errors
	ErrInvalidUsernameLength = errors.New("username must be 3-20 characters")
	ErrInvalidUsernameChars  = errors.New("username can only contain letters, numbers, spaces and underscores")
	ErrInvalidCoordinates    = errors.New("invalid coordinates")
	ErrInvalidLatitude       = errors.New("latitude must be between -90 and 90")
	ErrInvalidLongitude      = errors.New("longitude must be between -180 and 180")
	ErrInvalidLimit          = errors.New("limit must be between 1 and 200")

	// Rate limit errors
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Radar errors
	ErrClosed         = errors.New("radar session closed")
	ErrRadarNotActive = errors.New("radar not connected for session")

	// Storage errors
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrDataNotFound       = errors.New("data not found")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(err error, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		StatusCode: statusCode,
	}
}

// StatusFor maps an error onto the HTTP status the API should answer with.
func StatusFor(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}

	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrSessionNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrInsecureContext):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrInvalidCoordinates),
		errors.Is(err, ErrInvalidLatitude),
		errors.Is(err, ErrInvalidLongitude),
		errors.Is(err, ErrInvalidLimit),
		errors.Is(err, ErrInvalidUsernameLength),
		errors.Is(err, ErrInvalidUsernameChars),
		errors.Is(err, ErrMaxUsernameChanges):
		return http.StatusBadRequest
	case errors.Is(err, ErrRadarNotActive), errors.Is(err, ErrClosed):
		return http.StatusConflict
	case errors.Is(err, ErrLocationTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrLocationUnsupported),
		errors.Is(err, ErrLocationUnavailable),
		errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, ErrQueryFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
