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
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/hdrlog/internal/histlog"
	"github.com/cardinalhq/hdrlog/internal/logctx"
	"github.com/cardinalhq/hdrlog/internal/summary"
)

type splitOptions struct {
	rng             rangeFlags
	inputPath       string
	inputFile       string
	outputDir       string
	includeTags     []string
	excludeTags     []string
	excludePatterns []string
}

func newSplitCmd() *cobra.Command {
	o := &splitOptions{}
	cmd := &cobra.Command{
		Use:   "split",
		Short: "Split a histogram log into one log per tag",
		Long: `Write the intervals of each tag to <tag>.<input name> in the output directory.
Untagged intervals go to default.<input name>.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return runTelemetry("split", func(ctx context.Context) error {
				return runSplit(ctx, c, o)
			})
		},
	}
	o.rng.register(cmd)
	cmd.Flags().StringVar(&o.inputPath, "input-path", ".", "Directory the input file is looked up in first")
	cmd.Flags().StringVarP(&o.inputFile, "input-file", "i", "", "Log to split")
	cmd.Flags().StringVarP(&o.outputDir, "output-dir", "o", ".", "Directory for the per tag logs")
	cmd.Flags().StringArrayVar(&o.includeTags, "include-tag", nil, "Only split out this tag; 'default' names untagged intervals (repeatable)")
	cmd.Flags().StringArrayVar(&o.excludeTags, "exclude-tag", nil, "Drop this tag; 'default' names untagged intervals (repeatable)")
	cmd.Flags().StringArrayVar(&o.excludePatterns, "exclude-tag-pattern", nil, "Drop tags matching this regular expression (repeatable)")
	_ = cmd.MarkFlagRequired("input-file")
	return cmd
}

// splitInputURI prefers the file inside inputPath and falls back to the name
// as given.
func splitInputURI(inputPath, inputFile string) string {
	if inputFile == "-" || strings.HasPrefix(inputFile, "s3://") {
		return inputFile
	}
	joined := filepath.Join(inputPath, inputFile)
	if _, err := os.Stat(joined); err == nil {
		return joined
	}
	return inputFile
}

type splitOutput struct {
	out    *output
	writer *histlog.Writer
}

func runSplit(ctx context.Context, cmd *cobra.Command, o *splitOptions) (err error) {
	logger := logctx.FromContext(ctx)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	filter, err := histlog.NewTagFilter(o.includeTags, o.excludeTags, o.excludePatterns)
	if err != nil {
		return err
	}
	ropts := o.rng.readerOptions(cmd, cfg)
	ropts.ExcludeTag = filter.Predicate()

	uri := splitInputURI(o.inputPath, o.inputFile)
	r, err := openReader(ctx, newOpener(cfg), uri, ropts)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	name := path.Base(filepath.ToSlash(uri))
	if uri == "-" {
		name = "stdin.hlog"
	}
	comment := fmt.Sprintf("Splitting of:%s start:%g end:%g run:%s", name, ropts.RangeStartSec, ropts.RangeEndSec, runID)

	outputs := map[string]*splitOutput{}
	defer func() {
		for _, so := range outputs {
			err = errors.Join(err, so.out.Close())
		}
	}()

	i := 0
	for r.HasNext() {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := r.NextIntervalValue()
		if err != nil {
			return err
		}
		if v == nil {
			continue
		}

		tag := v.Tag()
		so, ok := outputs[tag]
		if !ok {
			target := filepath.Join(o.outputDir, histlog.DisplayTag(tag)+"."+name)
			out, err := openOutput(cmd, target)
			if err != nil {
				return err
			}
			so = &splitOutput{
				out: out,
				writer: histlog.NewWriter(out, histlog.WriterOptions{
					Comment:           comment,
					MaxValueUnitRatio: cfg.Output.MaxValueUnitRatio,
				}),
			}
			outputs[tag] = so
			if err := so.writer.StartTime(r.StartTimeSec()); err != nil {
				return err
			}
			logger.Info("writing split log", slog.String("tag", histlog.DisplayTag(tag)), slog.String("path", target))
		}

		if logger.Enabled(ctx, slog.LevelDebug) {
			logger.Debug(summary.Describe(v, i, 1))
		}
		i++

		v.SetTag("")
		if err := so.writer.Accept(v); err != nil {
			return err
		}
	}

	stats := r.Stats()
	logger.Info("split complete",
		slog.Int("outputs", len(outputs)),
		slog.Int64("records", stats.Records),
		slog.Int64("excluded", stats.Excluded))
	return nil
}
