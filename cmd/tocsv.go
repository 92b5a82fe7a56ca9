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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/hdrlog/internal/histlog"
	"github.com/cardinalhq/hdrlog/internal/logctx"
	"github.com/cardinalhq/hdrlog/internal/summary"
)

type toCSVOptions struct {
	inputFile  string
	outputFile string
}

func newToCSVCmd() *cobra.Command {
	o := &toCSVOptions{}
	cmd := &cobra.Command{
		Use:     "to-csv",
		Aliases: []string{"tocsv"},
		Short:   "Write one CSV row per interval of a histogram log",
		Args:    cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return runTelemetry("to-csv", func(ctx context.Context) error {
				return runToCSV(ctx, c, o)
			})
		},
	}
	cmd.Flags().StringVarP(&o.inputFile, "input-file", "i", "", "Log file path, s3:// URI or - for stdin")
	cmd.Flags().StringVarP(&o.outputFile, "output-file", "o", "", "CSV file; stdout when empty")
	_ = cmd.MarkFlagRequired("input-file")
	return cmd
}

func runToCSV(ctx context.Context, cmd *cobra.Command, o *toCSVOptions) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	r, err := openReader(ctx, newOpener(cfg), o.inputFile, histlog.DefaultReaderOptions())
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	out, err := openOutput(cmd, o.outputFile)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, out.Close()) }()

	if err := summary.WriteCSVHeader(out); err != nil {
		return err
	}
	rows := 0
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
		if err := summary.WriteCSVRow(out, v); err != nil {
			return err
		}
		rows++
	}
	logctx.FromContext(ctx).Info("wrote csv", slog.String("input", o.inputFile), slog.Int("rows", rows))
	return nil
}
