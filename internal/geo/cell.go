package geo

import (
	"github.com/mmcloughlin/geohash"
)

// DefaultCellChars gives cells of roughly 1.2km x 0.6km, comfortably larger
// than a user bucket.
const DefaultCellChars = 6

// Cell returns the geohash cell containing the bucket center. Co-bucketed
// coordinates always share a cell.
func Cell(b Bucket, chars uint) string {
	if chars == 0 {
		chars = DefaultCellChars
	}
	return geohash.EncodeWithPrecision(b.Latitude(), b.Longitude(), chars)
}

// CellBounds returns the latitude/longitude box of a geohash cell.
func CellBounds(cell string) (minLat, maxLat, minLon, maxLon float64) {
	box := geohash.BoundingBox(cell)
	return box.MinLat, box.MaxLat, box.MinLng, box.MaxLng
}
