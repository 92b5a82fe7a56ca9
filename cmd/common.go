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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/hdrlog/config"
	"github.com/cardinalhq/hdrlog/internal/constants"
	"github.com/cardinalhq/hdrlog/internal/histlog"
	"github.com/cardinalhq/hdrlog/internal/logctx"
	"github.com/cardinalhq/hdrlog/internal/logsource"
)

// rangeFlags selects the part of each log to read.
type rangeFlags struct {
	start    float64
	end      float64
	absolute bool
}

func (f *rangeFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64VarP(&f.start, "start", "s", 0, "Range start in seconds, relative to each log's start time")
	cmd.Flags().Float64VarP(&f.end, "end", "e", math.MaxFloat64, "Range end in seconds, relative to each log's start time")
	cmd.Flags().BoolVar(&f.absolute, "absolute", false, "Interpret --start and --end as seconds since the epoch")
}

// readerOptions merges the flags over cfg; flags win when set.
func (f *rangeFlags) readerOptions(cmd *cobra.Command, cfg *config.Config) histlog.ReaderOptions {
	opts := histlog.DefaultReaderOptions()
	opts.RangeStartSec = cfg.Range.Start
	opts.RangeEndSec = cfg.Range.End
	opts.Absolute = cfg.Range.Absolute
	if cmd.Flags().Changed("start") {
		opts.RangeStartSec = f.start
	}
	if cmd.Flags().Changed("end") {
		opts.RangeEndSec = f.end
	}
	if cmd.Flags().Changed("absolute") {
		opts.Absolute = f.absolute
	}
	return opts
}

// selectionFlags names the input logs.
type selectionFlags struct {
	inputPath string
	patterns  []string
	files     []string
	tagged    []string
}

func (f *selectionFlags) register(cmd *cobra.Command, allowTags bool) {
	cmd.Flags().StringVar(&f.inputPath, "input-path", ".", "Directory searched by --input-file")
	cmd.Flags().StringArrayVar(&f.patterns, "input-file", nil, "Regular expression selecting log files in --input-path (repeatable)")
	cmd.Flags().StringArrayVar(&f.files, "input-file-path", nil, "Log file path, s3:// URI or - for stdin (repeatable)")
	if allowTags {
		cmd.Flags().StringArrayVar(&f.tagged, "tagged-input-file", nil, "<tag>=<file>: tag every interval of file with tag (repeatable)")
	}
}

func (f *selectionFlags) resolve(ctx context.Context) ([]logsource.Input, error) {
	inputs, err := logsource.Resolve(logsource.Selection{
		Dir:      f.inputPath,
		Patterns: f.patterns,
		Files:    f.files,
		Tagged:   f.tagged,
	})
	if err != nil {
		return nil, err
	}
	logger := logctx.FromContext(ctx)
	for _, in := range inputs {
		logger.Debug("selected input", slog.String("uri", in.URI), slog.String("tag", in.Tag))
	}
	return inputs, nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func newOpener(cfg *config.Config) *logsource.Opener {
	return logsource.NewOpener(logsource.WithS3(logsource.S3Options{
		Region:       cfg.S3.Region,
		Endpoint:     cfg.S3.Endpoint,
		UsePathStyle: cfg.S3.UsePathStyle,
	}))
}

// openReader opens uri and wraps it in an OrderedReader named after it.
func openReader(ctx context.Context, opener *logsource.Opener, uri string, opts histlog.ReaderOptions) (*histlog.OrderedReader, error) {
	rc, err := opener.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	opts.Name = uri
	opts.Logger = logctx.FromContext(logctx.WithInput(ctx, uri))
	return histlog.NewOrderedReader(rc, opts)
}

// output is a buffered command output that may be a file or the command's
// stdout.
type output struct {
	*bufio.Writer
	closer io.Closer
}

// openOutput opens path for writing; "" and "-" select cmd's stdout.
func openOutput(cmd *cobra.Command, path string) (*output, error) {
	if path == "" || path == "-" {
		return &output{Writer: bufio.NewWriterSize(cmd.OutOrStdout(), constants.OutputBufferSizeBytes)}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating output %s: %w", path, err)
	}
	return &output{Writer: bufio.NewWriterSize(f, constants.OutputBufferSizeBytes), closer: f}, nil
}

// Close flushes and closes the output.
func (o *output) Close() error {
	err := o.Flush()
	if o.closer != nil {
		err = errors.Join(err, o.closer.Close())
	}
	return err
}
