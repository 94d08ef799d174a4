// Package significance decides which readings are worth acting on and
// coalesces bursts of them.
package significance

import (
	"github.com/askwhyharsh/sonar/internal/geo"
)

// DefaultThresholdKm is the minimum movement that counts as a change.
const DefaultThresholdKm = 0.1

// Accept reports whether candidate moved far enough from previous. The first
// reading is always accepted.
func Accept(previous *geo.Coordinate, candidate geo.Coordinate, thresholdKm float64) bool {
	if previous == nil {
		return true
	}
	return geo.DistanceKm(*previous, candidate) >= thresholdKm
}

// Filter remembers the last accepted coordinate.
type Filter struct {
	thresholdKm float64
	last        *geo.Coordinate
}

func NewFilter(thresholdKm float64) *Filter {
	if thresholdKm <= 0 {
		thresholdKm = DefaultThresholdKm
	}
	return &Filter{thresholdKm: thresholdKm}
}

// Offer accepts candidate when it is significant and makes it the new
// reference point.
func (f *Filter) Offer(candidate geo.Coordinate) bool {
	if !Accept(f.last, candidate, f.thresholdKm) {
		return false
	}
	c := candidate
	f.last = &c
	return true
}

// Force makes c the reference point without checking it.
func (f *Filter) Force(c geo.Coordinate) {
	f.last = &c
}

// Last returns a copy of the last accepted coordinate, or nil.
func (f *Filter) Last() *geo.Coordinate {
	if f.last == nil {
		return nil
	}
	c := *f.last
	return &c
}

// Reset forgets the reference point.
func (f *Filter) Reset() {
	f.last = nil
}
