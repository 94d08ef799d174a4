package geo

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/askwhyharsh/sonar/pkg/errors"
)

var samplePoints = []Coordinate{
	MustCoordinate(12.9716, 77.5946),   // Bengaluru
	MustCoordinate(40.7128, -74.0060),  // New York
	MustCoordinate(51.5074, -0.1278),   // London
	MustCoordinate(-33.8688, 151.2093), // Sydney
	MustCoordinate(90, 0),
	MustCoordinate(-90, 180),
	MustCoordinate(0, -180),
}

func TestNewCoordinateValidation(t *testing.T) {
	tests := []struct {
		name    string
		lat     float64
		lon     float64
		wantErr bool
	}{
		{name: "valid", lat: 12.97, lon: 77.59},
		{name: "poles and antimeridian", lat: -90, lon: 180},
		{name: "latitude too high", lat: 90.0001, lon: 0, wantErr: true},
		{name: "longitude too low", lat: 0, lon: -180.5, wantErr: true},
		{name: "nan", lat: math.NaN(), lon: 0, wantErr: true},
		{name: "inf", lat: 0, lon: math.Inf(1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCoordinate(tt.lat, tt.lon, nil, time.Now())
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrInvalidCoordinates)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewCoordinateCopiesAccuracy(t *testing.T) {
	acc := 12.5
	c, err := NewCoordinate(1, 2, &acc, time.UnixMilli(1000))
	require.NoError(t, err)

	acc = 99
	require.NotNil(t, c.Accuracy)
	assert.Equal(t, 12.5, *c.Accuracy)
	assert.Equal(t, int64(1000), c.CapturedAtMs)
}

func TestDistanceIdentity(t *testing.T) {
	for _, p := range samplePoints {
		assert.Equal(t, 0.0, DistanceKm(p, p), "point %s", p)
	}
}

func TestDistanceSymmetry(t *testing.T) {
	for _, a := range samplePoints {
		for _, b := range samplePoints {
			assert.InDelta(t, DistanceKm(a, b), DistanceKm(b, a), 1e-9)
		}
	}
}

func TestDistanceMonotonicAlongMeridian(t *testing.T) {
	origin := MustCoordinate(-10, 30)
	prev := 0.0
	for lat := -10.0; lat <= 80; lat += 0.5 {
		d := DistanceKm(origin, MustCoordinate(lat, 30))
		assert.GreaterOrEqual(t, d, prev, "lat %.1f", lat)
		prev = d
	}
}

func TestDistanceAntipodal(t *testing.T) {
	d := DistanceKm(MustCoordinate(0, 0), MustCoordinate(0, 180))
	assert.False(t, math.IsNaN(d))
	assert.InDelta(t, math.Pi*EarthRadiusKm, d, 1e-6)

	d = DistanceKm(MustCoordinate(45, 10), MustCoordinate(-45, -170))
	assert.False(t, math.IsNaN(d))
	assert.InDelta(t, math.Pi*EarthRadiusKm, d, 1e-3)
}

func TestDistanceKnownPair(t *testing.T) {
	// London to Paris, roughly 343km
	d := DistanceKm(MustCoordinate(51.5074, -0.1278), MustCoordinate(48.8566, 2.3522))
	assert.InDelta(t, 343.5, d, 1.0)
}

func TestBucketScenario(t *testing.T) {
	a := MustCoordinate(12.9716, 77.5946)
	b := MustCoordinate(12.97161, 77.59459)

	ba := UserBucket(a)
	assert.Equal(t, "12.972,77.595", ba.Key())
	assert.Equal(t, 12.972, ba.Latitude())
	assert.Equal(t, 77.595, ba.Longitude())
	assert.Equal(t, ba, UserBucket(b))
	assert.True(t, CoBucketed(a, b, UserBucketPrecision))
}

func TestBucketIdempotent(t *testing.T) {
	for _, p := range append(samplePoints, MustCoordinate(-0.0004, -0.0004), MustCoordinate(33.33349, -117.99951)) {
		once := UserBucket(p)
		twice := UserBucket(once.Center())
		assert.Equal(t, once, twice, "point %s", p)
		assert.Equal(t, once.Center(), p.Rounded(UserBucketPrecision).Rounded(UserBucketPrecision))
	}
}

func TestBucketPrecisionBoundary(t *testing.T) {
	// differs only after the third decimal
	assert.Equal(t, UserBucket(MustCoordinate(10.1231, 20.4561)), UserBucket(MustCoordinate(10.1234, 20.4564)))
	// differs at the third decimal
	assert.NotEqual(t, UserBucket(MustCoordinate(10.123, 20.456)), UserBucket(MustCoordinate(10.124, 20.456)))
	assert.NotEqual(t, UserBucket(MustCoordinate(10.123, 20.456)), UserBucket(MustCoordinate(10.123, 20.457)))
}

func TestNegativeZeroBucketKey(t *testing.T) {
	b := UserBucket(MustCoordinate(-0.0001, -0.0002))
	assert.Equal(t, "0.000,0.000", b.Key())
}

func TestParseBucket(t *testing.T) {
	b, err := ParseBucket("12.972,77.595")
	require.NoError(t, err)
	assert.Equal(t, UserBucket(MustCoordinate(12.9716, 77.5946)), b)
	assert.Equal(t, 3, b.Precision())

	_, err = ParseBucket("12.97")
	assert.Error(t, err)
	_, err = ParseBucket("12.97,77.595")
	assert.Error(t, err)
	_, err = ParseBucket("95.000,1.000")
	assert.Error(t, err)
}

func TestRebucket(t *testing.T) {
	b := UserBucket(MustCoordinate(12.9716, 77.5916))
	assert.Equal(t, "12.972,77.592", b.Key())
	coarse := b.Rebucket(2)
	assert.Equal(t, "12.97,77.59", coarse.Key())
	assert.Equal(t, 2, coarse.Precision())
}

func TestCellSharedByCoBucketed(t *testing.T) {
	a := UserBucket(MustCoordinate(12.9716, 77.5946))
	b := UserBucket(MustCoordinate(12.97161, 77.59459))
	assert.Equal(t, Cell(a, 0), Cell(b, 0))
	assert.Len(t, Cell(a, 0), DefaultCellChars)

	minLat, maxLat, minLon, maxLon := CellBounds(Cell(a, 0))
	assert.True(t, a.Latitude() >= minLat && a.Latitude() <= maxLat)
	assert.True(t, a.Longitude() >= minLon && a.Longitude() <= maxLon)
}
