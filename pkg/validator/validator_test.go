package validator

import (
	"math"
	"testing"

	apperrors "github.com/askwhyharsh/sonar/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestValidateUsername(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateUsername("river otter"))
	assert.NoError(t, v.ValidateUsername("abc"))
	assert.ErrorIs(t, v.ValidateUsername("ab"), apperrors.ErrInvalidUsernameLength)
	assert.ErrorIs(t, v.ValidateUsername("abcdefghijklmnopqrstu"), apperrors.ErrInvalidUsernameLength)
	assert.ErrorIs(t, v.ValidateUsername("otter!"), apperrors.ErrInvalidUsernameChars)
}

func TestValidateCoordinates(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateCoordinates(12.9716, 77.5946))
	assert.NoError(t, v.ValidateCoordinates(-90, 180))
	assert.ErrorIs(t, v.ValidateCoordinates(90.1, 0), apperrors.ErrInvalidLatitude)
	assert.ErrorIs(t, v.ValidateCoordinates(0, -180.5), apperrors.ErrInvalidLongitude)
	assert.ErrorIs(t, v.ValidateCoordinates(math.NaN(), 0), apperrors.ErrInvalidCoordinates)
}

func TestValidateLimit(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateLimit(1))
	assert.NoError(t, v.ValidateLimit(200))
	assert.ErrorIs(t, v.ValidateLimit(0), apperrors.ErrInvalidLimit)
	assert.ErrorIs(t, v.ValidateLimit(201), apperrors.ErrInvalidLimit)
}
