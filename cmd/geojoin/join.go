package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/hupe1980/geojoin"
	"github.com/hupe1980/geojoin/page"
	"github.com/hupe1980/geojoin/spatial"
)

type joinConfig struct {
	buildPath     string
	probePath     string
	buildGeometry string
	probeGeometry string
	buildColumns  []string
	probeColumns  []string
	relation      string
	radius        float64
	radiusColumn  string
	partitions    int
	pageSize      int
	memoryLimit   string
	maxBuilds     int
	quantum       time.Duration
	cellSize      float64
	format        string
	stats         bool
	verbose       bool
}

func defaultJoinConfig() joinConfig {
	return joinConfig{
		relation:   spatial.Intersects.String(),
		partitions: 1,
		pageSize:   page.DefaultBuilderOptions.MaxPositions,
		maxBuilds:  1,
		quantum:    geojoin.DefaultQuantum,
		format:     "table",
	}
}

func makeJoinCommand() *cobra.Command {
	config := defaultJoinConfig()
	runCmdFunc := func(cmd *cobra.Command, args []string) error {
		return runJoin(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), config)
	}
	cmd := &cobra.Command{
		Use:   "join --build <file> --probe <file>",
		Short: "Join the rows of two files on a spatial relation",
		Long: `Join the rows of two files on a spatial relation.

Each output row holds the probe columns followed by the build columns. Files
ending in .pages are read as page streams written by "geojoin encode"; their
columns are named c0, c1, ...`,
		Args: cobra.NoArgs,
		RunE: runCmdFunc,
	}
	cmd.Flags().StringVar(&config.buildPath, "build", config.buildPath, "build side file; it is indexed")
	cmd.Flags().StringVar(&config.probePath, "probe", config.probePath, "probe side file; it is streamed through the index")
	cmd.Flags().StringVar(&config.buildGeometry, "build-geometry", config.buildGeometry, "build geometry column (default: first geometry column)")
	cmd.Flags().StringVar(&config.probeGeometry, "probe-geometry", config.probeGeometry, "probe geometry column (default: first geometry column)")
	cmd.Flags().StringSliceVar(&config.buildColumns, "build-columns", config.buildColumns, "build columns to emit (default: all non-geometry columns)")
	cmd.Flags().StringSliceVar(&config.probeColumns, "probe-columns", config.probeColumns, "probe columns to emit (default: all non-geometry columns)")
	cmd.Flags().StringVar(&config.relation, "relation", config.relation, "intersects, contains, within or within_distance; build side first")
	cmd.Flags().Float64Var(&config.radius, "radius", config.radius, "constant radius for within_distance")
	cmd.Flags().StringVar(&config.radiusColumn, "radius-column", config.radiusColumn, "double build column holding a per-row radius for within_distance")
	cmd.Flags().IntVar(&config.partitions, "partitions", config.partitions, "number of build and probe partitions run concurrently")
	cmd.Flags().IntVar(&config.pageSize, "page-size", config.pageSize, "rows per page")
	cmd.Flags().StringVar(&config.memoryLimit, "memory-limit", config.memoryLimit, "memory limit for the index and lookups, e.g. 64MiB (default: unlimited)")
	cmd.Flags().IntVar(&config.maxBuilds, "max-builds", config.maxBuilds, "concurrent index builds")
	cmd.Flags().DurationVar(&config.quantum, "quantum", config.quantum, "time a driver runs before operators yield")
	cmd.Flags().Float64Var(&config.cellSize, "cell-size", config.cellSize, "grid cell size of the index (default: derived from the build side)")
	cmd.Flags().StringVar(&config.format, "format", config.format, "output format: table or json")
	cmd.Flags().BoolVar(&config.stats, "stats", config.stats, "print operator stats to stderr")
	cmd.Flags().BoolVarP(&config.verbose, "verbose", "v", config.verbose, "log progress to stderr")
	_ = cmd.MarkFlagRequired("build")
	_ = cmd.MarkFlagRequired("probe")
	return cmd
}

func runJoin(ctx context.Context, stdout, stderr io.Writer, config joinConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if config.format != "table" && config.format != "json" {
		return errors.Newf("unknown format %q", config.format)
	}
	relation, err := spatial.ParseRelation(config.relation)
	if err != nil {
		return err
	}
	var memoryLimit int64
	if config.memoryLimit != "" {
		n, err := humanize.ParseBytes(config.memoryLimit)
		if err != nil {
			return errors.Wrap(err, "memory limit")
		}
		memoryLimit = int64(n)
	}

	build, err := readTable(config.buildPath, config.pageSize)
	if err != nil {
		return err
	}
	probe, err := readTable(config.probePath, config.pageSize)
	if err != nil {
		return err
	}

	cfg, err := makeJoinConfig(build, probe, relation, config)
	if err != nil {
		return err
	}

	logger := geojoin.NoopLogger()
	if config.verbose {
		logger = geojoin.NewLogger(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	j, err := geojoin.New(cfg,
		geojoin.WithLogger(logger),
		geojoin.WithMemoryLimit(memoryLimit),
		geojoin.WithMaxConcurrentBuilds(config.maxBuilds),
		geojoin.WithQuantum(config.quantum),
		geojoin.WithCellSize(config.cellSize),
	)
	if err != nil {
		return err
	}

	res, err := j.Execute(ctx, build.partitions(config.partitions), probe.partitions(config.partitions))
	if err != nil {
		return err
	}

	names := outputNames(build, probe, cfg)
	if config.format == "json" {
		err = writeJSON(stdout, names, res)
	} else {
		err = writeTable(stdout, names, res)
	}
	if err != nil {
		return err
	}

	if config.stats {
		b, err := res.Stats.MarshalIndent()
		if err != nil {
			return err
		}
		fmt.Fprintf(stderr, "index: %d rows, %s\n%s\n", res.IndexRows, humanize.IBytes(uint64(res.IndexBytes)), b)
	}
	return nil
}

func makeJoinConfig(build, probe *table, relation spatial.Relation, config joinConfig) (geojoin.Config, error) {
	cfg := geojoin.Config{
		BuildTypes:    build.types,
		ProbeTypes:    probe.types,
		Relation:      relation,
		Radius:        config.radius,
		RadiusChannel: geojoin.NoChannel,
	}

	var err error
	if cfg.BuildGeometryChannel, err = geometryChannel(build, config.buildGeometry); err != nil {
		return cfg, errors.Wrap(err, "build")
	}
	if cfg.ProbeGeometryChannel, err = geometryChannel(probe, config.probeGeometry); err != nil {
		return cfg, errors.Wrap(err, "probe")
	}
	if cfg.BuildOutputChannels, err = outputChannels(build, config.buildColumns); err != nil {
		return cfg, errors.Wrap(err, "build")
	}
	if cfg.ProbeOutputChannels, err = outputChannels(probe, config.probeColumns); err != nil {
		return cfg, errors.Wrap(err, "probe")
	}
	if config.radiusColumn != "" {
		if relation != spatial.WithinDistance {
			return cfg, errors.Newf("--radius-column requires %s", spatial.WithinDistance)
		}
		if cfg.RadiusChannel, err = build.channel(config.radiusColumn); err != nil {
			return cfg, errors.Wrap(err, "radius")
		}
	}
	return cfg, nil
}

func geometryChannel(t *table, name string) (int, error) {
	if name == "" {
		return t.firstGeometryChannel()
	}
	return t.channel(name)
}

func outputChannels(t *table, names []string) ([]int, error) {
	if len(names) == 0 {
		return t.nonGeometryChannels(), nil
	}
	return t.channels(names)
}

func outputNames(build, probe *table, cfg geojoin.Config) []string {
	names := make([]string, 0, len(cfg.ProbeOutputChannels)+len(cfg.BuildOutputChannels))
	for _, ch := range cfg.ProbeOutputChannels {
		names = append(names, probe.names[ch])
	}
	for _, ch := range cfg.BuildOutputChannels {
		names = append(names, build.names[ch])
	}
	return names
}

func writeTable(w io.Writer, names []string, res *geojoin.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(names, "\t"))
	cells := make([]string, len(names))
	for _, p := range res.Pages() {
		for pos := range p.PositionCount() {
			for ch, typ := range res.OutputTypes {
				cells[ch] = typ.Format(p.Block(ch), pos)
			}
			fmt.Fprintln(tw, strings.Join(cells, "\t"))
		}
	}
	fmt.Fprintf(tw, "(%d rows)\n", res.PositionCount())
	return tw.Flush()
}

type jsonResult struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

func writeJSON(w io.Writer, names []string, res *geojoin.Result) error {
	out := jsonResult{Columns: names, Rows: make([][]any, 0, res.PositionCount())}
	for _, p := range res.Pages() {
		for pos := range p.PositionCount() {
			row := make([]any, len(names))
			for ch, typ := range res.OutputTypes {
				row[ch] = jsonValue(typ, p.Block(ch), pos)
			}
			out.Rows = append(out.Rows, row)
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func jsonValue(typ page.Type, block page.Block, pos int) any {
	if block.IsNull(pos) {
		return nil
	}
	switch typ {
	case page.TypeBigint:
		v, _ := page.ValueAt[int64](block, pos)
		return v
	case page.TypeDouble:
		v, _ := page.ValueAt[float64](block, pos)
		return v
	case page.TypeBoolean:
		v, _ := page.ValueAt[bool](block, pos)
		return v
	default:
		return typ.Format(block, pos)
	}
}
