package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// UserBucketPrecision is the canonical matching precision, about 111m
	// of latitude.
	UserBucketPrecision = 3

	maxBucketPrecision = 7
)

// Bucket is a coordinate rounded to a fixed number of decimals. It is stored
// as scaled integers so equality is exact.
type Bucket struct {
	latUnits  int64
	lonUnits  int64
	precision int
}

// BucketOf computes the bucket of c at the given precision. Precision is
// clamped to [0, 7].
func BucketOf(c Coordinate, precision int) Bucket {
	precision = clampPrecision(precision)
	scale := math.Pow10(precision)
	return Bucket{
		latUnits:  int64(math.Round(c.Latitude * scale)),
		lonUnits:  int64(math.Round(c.Longitude * scale)),
		precision: precision,
	}
}

// UserBucket is BucketOf at UserBucketPrecision.
func UserBucket(c Coordinate) Bucket {
	return BucketOf(c, UserBucketPrecision)
}

// ParseBucket reverses Key.
func ParseBucket(key string) (Bucket, error) {
	latStr, lonStr, ok := strings.Cut(key, ",")
	if !ok {
		return Bucket{}, fmt.Errorf("invalid bucket key %q", key)
	}

	precision := decimals(latStr)
	if decimals(lonStr) != precision {
		return Bucket{}, fmt.Errorf("invalid bucket key %q: mixed precision", key)
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return Bucket{}, fmt.Errorf("invalid bucket latitude %q: %w", latStr, err)
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return Bucket{}, fmt.Errorf("invalid bucket longitude %q: %w", lonStr, err)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Bucket{}, fmt.Errorf("invalid bucket key %q: out of range", key)
	}

	return BucketOf(Coordinate{Latitude: lat, Longitude: lon}, precision), nil
}

// NewBucket builds a bucket from already-rounded values, e.g. database
// columns.
func NewBucket(lat, lon float64, precision int) Bucket {
	return BucketOf(Coordinate{Latitude: lat, Longitude: lon}, precision)
}

func (b Bucket) Latitude() float64 {
	return float64(b.latUnits) / math.Pow10(b.precision)
}

func (b Bucket) Longitude() float64 {
	return float64(b.lonUnits) / math.Pow10(b.precision)
}

func (b Bucket) Precision() int {
	return b.precision
}

// Center returns the bucket as a coordinate.
func (b Bucket) Center() Coordinate {
	return Coordinate{Latitude: b.Latitude(), Longitude: b.Longitude()}
}

// HalfWidth is half the side of the bucket cell in degrees.
func (b Bucket) HalfWidth() float64 {
	return 0.5 / math.Pow10(b.precision)
}

// Rebucket coarsens or refines b to another precision.
func (b Bucket) Rebucket(precision int) Bucket {
	return BucketOf(b.Center(), precision)
}

// Key is the stable string form used by the stores, e.g. "12.972,77.595".
func (b Bucket) Key() string {
	return strconv.FormatFloat(b.Latitude(), 'f', b.precision, 64) + "," +
		strconv.FormatFloat(b.Longitude(), 'f', b.precision, 64)
}

func (b Bucket) String() string {
	return b.Key()
}

// CoBucketed reports whether a and b fall in the same bucket at precision.
func CoBucketed(a, b Coordinate, precision int) bool {
	return BucketOf(a, precision) == BucketOf(b, precision)
}

func clampPrecision(p int) int {
	if p < 0 {
		return 0
	}
	if p > maxBucketPrecision {
		return maxBucketPrecision
	}
	return p
}

func decimals(s string) int {
	_, frac, ok := strings.Cut(s, ".")
	if !ok {
		return 0
	}
	return len(frac)
}
