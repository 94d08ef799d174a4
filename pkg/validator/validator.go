package validator

import (
	"math"
	"regexp"

	apperrors "github.com/askwhyharsh/sonar/pkg/errors"
)

const maxNearbyLimit = 200

type Validator interface {
	ValidateUsername(username string) error
	ValidateCoordinates(lat, lon float64) error
	ValidateLimit(limit int) error
}

type validator struct {
	usernameRegex *regexp.Regexp
}

func NewValidator() Validator {
	return &validator{
		usernameRegex: regexp.MustCompile(`^[a-zA-Z0-9_ ]+$`),
	}
}

func (v *validator) ValidateUsername(username string) error {
	if len(username) < 3 || len(username) > 20 {
		return apperrors.ErrInvalidUsernameLength
	}

	if !v.usernameRegex.MatchString(username) {
		return apperrors.ErrInvalidUsernameChars
	}

	return nil
}

func (v *validator) ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return apperrors.ErrInvalidCoordinates
	}

	if lat < -90 || lat > 90 {
		return apperrors.ErrInvalidLatitude
	}

	if lon < -180 || lon > 180 {
		return apperrors.ErrInvalidLongitude
	}

	return nil
}

func (v *validator) ValidateLimit(limit int) error {
	if limit < 1 || limit > maxNearbyLimit {
		return apperrors.ErrInvalidLimit
	}

	return nil
}
