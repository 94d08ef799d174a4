package api

import (
	"errors"

	"github.com/askwhyharsh/sonar/internal/location"
	apperrors "github.com/askwhyharsh/sonar/pkg/errors"
	"github.com/askwhyharsh/sonar/pkg/response"
	"github.com/gin-gonic/gin"
)

// respondError writes err with the status and code it maps to.
func respondError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apperrors.StatusFor(err), response.Error(err.Error(), errorCode(err)))
}

func errorCode(err error) string {
	if kind, ok := location.KindOf(err); ok {
		switch kind {
		case location.KindUnsupported:
			return "LOCATION_UNSUPPORTED"
		case location.KindInsecureContext:
			return "LOCATION_INSECURE_CONTEXT"
		case location.KindPermissionDenied:
			return "LOCATION_PERMISSION_DENIED"
		case location.KindUnavailable:
			return "LOCATION_UNAVAILABLE"
		case location.KindTimeout:
			return "LOCATION_TIMEOUT"
		default:
			return "LOCATION_UNKNOWN"
		}
	}

	switch {
	case errors.Is(err, apperrors.ErrSessionNotFound), errors.Is(err, apperrors.ErrUnauthenticated):
		return "INVALID_SESSION"
	case errors.Is(err, apperrors.ErrMaxUsernameChanges):
		return "USERNAME_LIMIT"
	case errors.Is(err, apperrors.ErrInvalidUsernameLength), errors.Is(err, apperrors.ErrInvalidUsernameChars):
		return "INVALID_USERNAME"
	case errors.Is(err, apperrors.ErrInvalidLimit):
		return "INVALID_LIMIT"
	case errors.Is(err, apperrors.ErrRateLimitExceeded):
		return "RATE_LIMIT"
	case errors.Is(err, apperrors.ErrRadarNotActive):
		return "RADAR_NOT_CONNECTED"
	case errors.Is(err, apperrors.ErrClosed):
		return "RADAR_CLOSED"
	case errors.Is(err, apperrors.ErrQueryFailed):
		return "QUERY_FAILED"
	default:
		return "INTERNAL_ERROR"
	}
}
