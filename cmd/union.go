// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/hdrlog/internal/histlog"
	"github.com/cardinalhq/hdrlog/internal/logctx"
	"github.com/cardinalhq/hdrlog/internal/union"
)

type unionOptions struct {
	rng            rangeFlags
	sel            selectionFlags
	outputFile     string
	relative       bool
	targetWindowMs int64
}

func newUnionCmd() *cobra.Command {
	o := &unionOptions{}
	cmd := &cobra.Command{
		Use:   "union",
		Short: "Merge several histogram logs into one",
		Long: `Merge histogram logs by time. Intervals of the same tag that overlap by more
than 80% of their length are merged into one output interval; everything else
starts a new output interval.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return runTelemetry("union", func(ctx context.Context) error {
				return runUnion(ctx, c, o)
			})
		},
	}
	o.rng.register(cmd)
	o.sel.register(cmd, true)
	cmd.Flags().StringVarP(&o.outputFile, "output-file", "o", "", "Output file (default: stdout)")
	cmd.Flags().BoolVarP(&o.relative, "relative", "r", false, "Rebase every log to its own start time before merging")
	cmd.Flags().Int64Var(&o.targetWindowMs, "target-window", 0, "Minimum width in ms of a new output interval (0 keeps input widths)")
	return cmd
}

func runUnion(ctx context.Context, cmd *cobra.Command, o *unionOptions) (err error) {
	logger := logctx.FromContext(ctx)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ropts := o.rng.readerOptions(cmd, cfg)
	if err := ropts.Validate(); err != nil {
		return err
	}
	relative := cfg.Union.Relative
	if cmd.Flags().Changed("relative") {
		relative = o.relative
	}
	targetWindowMs := cfg.Union.TargetWindowMs
	if cmd.Flags().Changed("target-window") {
		targetWindowMs = o.targetWindowMs
	}

	inputs, err := o.sel.resolve(ctx)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		logger.Warn("no input files")
		return nil
	}

	opener := newOpener(cfg)
	iterators := make([]union.Input, 0, len(inputs))
	var toClose []*histlog.OrderedIterator
	defer func() {
		for _, it := range toClose {
			_ = it.Close()
		}
	}()
	uris := make([]string, 0, len(inputs))
	for _, in := range inputs {
		r, err := openReader(ctx, opener, in.URI, ropts)
		if err != nil {
			return err
		}
		it, err := histlog.NewOrderedIterator(r, in.Tag, relative)
		if err != nil {
			_ = r.Close()
			return fmt.Errorf("reading %s: %w", in.URI, err)
		}
		toClose = append(toClose, it)
		iterators = append(iterators, it)
		uris = append(uris, in.URI)
	}

	out, err := openOutput(cmd, o.outputFile)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()

	w := histlog.NewWriter(out, histlog.WriterOptions{
		Comment:           unionComment(uris, ropts, relative),
		MaxValueUnitRatio: cfg.Output.MaxValueUnitRatio,
	})
	engine := union.New(iterators, w,
		union.WithTargetWindow(targetWindowMs),
		union.WithRelative(relative),
		union.WithLogger(logger),
	)
	if err := engine.Run(ctx); err != nil {
		return err
	}

	stats := engine.Stats()
	logger.Info("union complete",
		slog.Int("inputs", stats.Inputs),
		slog.Int64("intervals", stats.Intervals),
		slog.Int64("windows", stats.Windows),
		slog.Int64("rollovers", stats.Rollovers))
	return nil
}

func unionComment(uris []string, opts histlog.ReaderOptions, relative bool) string {
	end := "MAX"
	if opts.RangeEndSec != math.MaxFloat64 {
		end = fmt.Sprintf("%g", opts.RangeEndSec)
	}
	return fmt.Sprintf("Union of:[%s] start:%g end:%s relative:%t run:%s",
		strings.Join(uris, ", "), opts.RangeStartSec, end, relative, runID)
}
