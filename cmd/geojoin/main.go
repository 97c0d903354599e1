// Command geojoin joins two tables of geometries from CSV or page files.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func makeGeojoinCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "geojoin [command] (flags)",
		Short: "geojoin runs spatial joins over CSV and page files.",
		Long: `geojoin runs spatial joins over CSV and page files.

CSV files carry a header of name:type cells, e.g. "id:bigint,zone:geometry".
Geometry cells hold WKT. Empty cells are NULL.

Typical usage:
    geojoin join --build zones.csv --probe points.csv --relation contains
        Emit one row per (point, zone) pair where the zone contains the point.

    geojoin join --build shops.csv --probe homes.csv --relation within_distance --radius 250 --format json
        Emit all (home, shop) pairs at most 250 units apart as JSON.

    geojoin encode --in points.csv --out points.pages --compression zstd
        Convert a CSV file into a compressed page stream.
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	command.AddCommand(makeJoinCommand())
	command.AddCommand(makeEncodeCommand())

	return command
}

func main() {
	if err := makeGeojoinCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
