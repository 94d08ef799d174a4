package app

import (
	"fmt"
	"strconv"
	"time"

	"github.com/askwhyharsh/sonar/internal/geo"
	"github.com/spf13/cobra"
)

func newBucketCmd() *cobra.Command {
	var (
		precision int
		cellChars uint
	)

	cmd := &cobra.Command{
		Use:   "bucket LAT LON",
		Short: "Print the matching bucket and notification cell of a coordinate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseCoordinate(args[0], args[1])
			if err != nil {
				return err
			}
			b := geo.BucketOf(c, precision)
			cell := geo.Cell(b, cellChars)
			minLat, maxLat, minLon, maxLon := geo.CellBounds(cell)
			fmt.Fprintf(cmd.OutOrStdout(), "bucket: %s\ncell:   %s\nbounds: %.5f,%.5f %.5f,%.5f\n",
				b.Key(), cell, minLat, minLon, maxLat, maxLon)
			return nil
		},
	}

	cmd.Flags().IntVarP(&precision, "precision", "p", geo.UserBucketPrecision, "Decimal places kept in the bucket")
	cmd.Flags().UintVarP(&cellChars, "cell", "c", geo.DefaultCellChars, "Geohash characters in the notification cell")
	return cmd
}

func newDistanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "distance LAT1 LON1 LAT2 LON2",
		Short: "Print the great-circle distance between two coordinates in km",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parseCoordinate(args[0], args[1])
			if err != nil {
				return err
			}
			b, err := parseCoordinate(args[2], args[3])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.3f km\n", geo.DistanceKm(a, b))
			return nil
		},
	}
}

func parseCoordinate(latArg, lonArg string) (geo.Coordinate, error) {
	lat, err := strconv.ParseFloat(latArg, 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("invalid latitude %q: %w", latArg, err)
	}
	lon, err := strconv.ParseFloat(lonArg, 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("invalid longitude %q: %w", lonArg, err)
	}
	return geo.NewCoordinate(lat, lon, nil, time.Now())
}
