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

	"github.com/spf13/cobra"

	"github.com/cardinalhq/hdrlog/config"
	"github.com/cardinalhq/hdrlog/internal/logctx"
	"github.com/cardinalhq/hdrlog/internal/summary"
)

type summarizeOptions struct {
	rng              rangeFlags
	sel              selectionFlags
	outputFile       string
	ignoreTag        bool
	ignoreTimestamps bool
	summaryType      string
	ticksPerHalf     int
	valueUnitRatio   float64
	bucketSize       int64
}

func newSummarizeCmd() *cobra.Command {
	o := &summarizeOptions{}
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Summarize histogram logs into one report per tag",
		Long: `Merge every interval of the selected logs per tag and write a report.
Without --output-file every tag's report goes to stdout. With it, each tag is
written to <output-file>[.<tag>].hgrm.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return runTelemetry("summarize", func(ctx context.Context) error {
				return runSummarize(ctx, c, o)
			})
		},
	}
	o.rng.register(cmd)
	o.sel.register(cmd, false)
	cmd.Flags().StringVarP(&o.outputFile, "output-file", "o", "", "Report file prefix; stdout when empty")
	cmd.Flags().BoolVar(&o.ignoreTag, "ignore-tag", false, "Fold all tags into a single report")
	cmd.Flags().BoolVar(&o.ignoreTimestamps, "ignore-timestamps", false, "Use the summed interval lengths as the period")
	cmd.Flags().StringVar(&o.summaryType, "summary-type", string(summary.FormatPercentiles), "Report format: percentiles, csv, hgrm or ddsketch")
	cmd.Flags().IntVar(&o.ticksPerHalf, "ticks-per-half", summary.DefaultTicksPerHalf, "Percentile ticks per halving distance (hgrm)")
	cmd.Flags().Float64Var(&o.valueUnitRatio, "value-unit-ratio", summary.DefaultValueUnitRatio, "Divide recorded values by this before reporting")
	cmd.Flags().Int64Var(&o.bucketSize, "bucket-size", summary.DefaultBucketSize, "Bucket width in recorded units (csv)")
	return cmd
}

// summaryOptions merges the flags over cfg; flags win when set.
func (o *summarizeOptions) summaryOptions(cmd *cobra.Command, cfg *config.Config) (summary.Options, summary.Format, error) {
	opts := summary.DefaultOptions()
	opts.TicksPerHalf = cfg.Summary.TicksPerHalf
	opts.BucketSize = cfg.Summary.BucketSize
	opts.ValueUnitRatio = cfg.Summary.ValueUnitRatio
	typ := cfg.Summary.Type

	flags := cmd.Flags()
	if flags.Changed("ticks-per-half") {
		opts.TicksPerHalf = o.ticksPerHalf
	}
	if flags.Changed("bucket-size") {
		opts.BucketSize = o.bucketSize
	}
	if flags.Changed("value-unit-ratio") {
		opts.ValueUnitRatio = o.valueUnitRatio
	}
	if flags.Changed("summary-type") {
		typ = o.summaryType
	}
	opts.IgnoreTag = o.ignoreTag
	opts.IgnoreTimestamps = o.ignoreTimestamps

	format, err := summary.ParseFormat(typ)
	if err != nil {
		return opts, "", err
	}
	return opts, format, opts.Validate()
}

// reportPath names the report file for tag.
func reportPath(outputFile, tag string) string {
	if tag == "" {
		return outputFile + ".hgrm"
	}
	return fmt.Sprintf("%s.%s.hgrm", outputFile, tag)
}

func runSummarize(ctx context.Context, cmd *cobra.Command, o *summarizeOptions) error {
	logger := logctx.FromContext(ctx)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sopts, format, err := o.summaryOptions(cmd, cfg)
	if err != nil {
		return err
	}
	sopts.Logger = logger
	ropts := o.rng.readerOptions(cmd, cfg)
	if err := ropts.Validate(); err != nil {
		return err
	}

	inputs, err := o.sel.resolve(ctx)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		logger.Warn("no input logs selected")
		return nil
	}

	s, err := summary.NewSummarizer(sopts)
	if err != nil {
		return err
	}
	opener := newOpener(cfg)
	for _, in := range inputs {
		r, err := openReader(ctx, opener, in.URI, ropts)
		if err != nil {
			return err
		}
		if err := s.Add(ctx, r); err != nil {
			return err
		}
	}

	logger.Info("summarized logs",
		slog.Int("inputs", len(inputs)),
		slog.Int("intervals", s.Intervals()),
		slog.Int64("periodMs", s.PeriodMs()),
		slog.String("format", string(format)))

	if o.outputFile == "" {
		out, err := openOutput(cmd, "")
		if err != nil {
			return err
		}
		for _, tag := range s.Tags() {
			if err := s.Report(out, tag, format); err != nil {
				return errors.Join(err, out.Close())
			}
		}
		return out.Close()
	}

	for _, tag := range s.Tags() {
		out, err := openOutput(cmd, reportPath(o.outputFile, tag))
		if err != nil {
			return err
		}
		if err := errors.Join(s.Report(out, tag, format), out.Close()); err != nil {
			return err
		}
	}
	return nil
}
