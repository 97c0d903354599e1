package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hupe1980/geojoin/memory"
	"github.com/hupe1980/geojoin/page"
)

type encodeConfig struct {
	in          string
	out         string
	compression string
	ioLimit     string
	pageSize    int
}

func makeEncodeCommand() *cobra.Command {
	config := encodeConfig{
		compression: page.CompressionLZ4.String(),
		pageSize:    page.DefaultBuilderOptions.MaxPositions,
	}
	runCmdFunc := func(cmd *cobra.Command, args []string) error {
		return runEncode(cmd.Context(), cmd.OutOrStdout(), config)
	}
	cmd := &cobra.Command{
		Use:   "encode --in <file.csv> --out <file.pages>",
		Short: "Convert a CSV file into a page stream",
		Args:  cobra.NoArgs,
		RunE:  runCmdFunc,
	}
	cmd.Flags().StringVar(&config.in, "in", config.in, "input CSV file")
	cmd.Flags().StringVar(&config.out, "out", config.out, "output page file")
	cmd.Flags().StringVar(&config.compression, "compression", config.compression, "none, lz4 or zstd")
	cmd.Flags().StringVar(&config.ioLimit, "io-limit", config.ioLimit, "write throughput limit per second, e.g. 8MiB (default: unlimited)")
	cmd.Flags().IntVar(&config.pageSize, "page-size", config.pageSize, "rows per page")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func runEncode(ctx context.Context, stdout io.Writer, config encodeConfig) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	compression, err := page.ParseCompression(config.compression)
	if err != nil {
		return err
	}
	var ioLimit int64
	if config.ioLimit != "" {
		n, err := humanize.ParseBytes(config.ioLimit)
		if err != nil {
			return errors.Wrap(err, "io limit")
		}
		ioLimit = int64(n)
	}

	t, err := readTable(config.in, config.pageSize)
	if err != nil {
		return err
	}

	f, err := os.Create(config.out)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.CombineErrors(err, f.Close())
	}()

	pool := memory.NewPool(memory.Config{IOLimitBytesPerSec: ioLimit})
	bw := bufio.NewWriter(memory.NewRateLimitedWriter(ctx, f, pool))
	if err := page.WritePages(bw, page.NewSerde(compression), t.pages...); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	info, err := f.Stat()
	if err != nil {
		return err
	}
	rows := 0
	for _, p := range t.pages {
		rows += p.PositionCount()
	}
	fmt.Fprintf(stdout, "wrote %d rows in %d pages to %s (%s, %s)\n",
		rows, len(t.pages), config.out, humanize.IBytes(uint64(info.Size())), compression)
	return nil
}
