// Package geo holds the coordinate primitives the radar is built on:
// validated coordinates, fixed-precision matching buckets, the haversine
// distance and geohash cells used to fan change notices out.
package geo

import (
	"fmt"
	"math"
	"time"

	apperrors "github.com/askwhyharsh/sonar/pkg/errors"
)

// Coordinate is a single position reading. Construct it with NewCoordinate;
// the zero value is a valid point on the equator but carries no timestamp.
type Coordinate struct {
	Latitude     float64
	Longitude    float64
	Accuracy     *float64
	CapturedAtMs int64
}

// NewCoordinate validates the ranges and copies accuracy so the result does
// not alias caller memory.
func NewCoordinate(lat, lon float64, accuracy *float64, capturedAt time.Time) (Coordinate, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return Coordinate{}, apperrors.ErrInvalidCoordinates
	}
	if lat < -90 || lat > 90 {
		return Coordinate{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidCoordinates, apperrors.ErrInvalidLatitude)
	}
	if lon < -180 || lon > 180 {
		return Coordinate{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidCoordinates, apperrors.ErrInvalidLongitude)
	}

	c := Coordinate{
		Latitude:     lat,
		Longitude:    lon,
		CapturedAtMs: capturedAt.UnixMilli(),
	}
	if accuracy != nil {
		a := *accuracy
		c.Accuracy = &a
	}
	return c, nil
}

// MustCoordinate is NewCoordinate for literals known to be valid.
func MustCoordinate(lat, lon float64) Coordinate {
	c, err := NewCoordinate(lat, lon, nil, time.Time{})
	if err != nil {
		panic(err)
	}
	c.CapturedAtMs = 0
	return c
}

// CapturedAt returns the capture time.
func (c Coordinate) CapturedAt() time.Time {
	return time.UnixMilli(c.CapturedAtMs)
}

// Rounded returns a copy with latitude and longitude rounded to precision
// decimal places. Accuracy and capture time are kept.
func (c Coordinate) Rounded(precision int) Coordinate {
	out := c
	out.Latitude = roundTo(c.Latitude, precision)
	out.Longitude = roundTo(c.Longitude, precision)
	if c.Accuracy != nil {
		a := *c.Accuracy
		out.Accuracy = &a
	}
	return out
}

// Equal compares positions only.
func (c Coordinate) Equal(other Coordinate) bool {
	return c.Latitude == other.Latitude && c.Longitude == other.Longitude
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", c.Latitude, c.Longitude)
}

func roundTo(v float64, precision int) float64 {
	scale := math.Pow10(precision)
	r := math.Round(v*scale) / scale
	if r == 0 {
		// normalize -0
		return 0
	}
	return r
}
