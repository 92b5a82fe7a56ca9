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

// Package summary aggregates histogram logs into per-tag totals and renders
// them as reports.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cardinalhq/hdrlog/internal/histlog"
	"github.com/cardinalhq/hdrlog/internal/histogram"
)

// Format selects a report layout.
type Format string

const (
	FormatPercentiles Format = "percentiles"
	FormatCSV         Format = "csv"
	FormatHGRM        Format = "hgrm"
	FormatDDSketch    Format = "ddsketch"
)

// Formats lists the supported report layouts.
var Formats = []Format{FormatPercentiles, FormatCSV, FormatHGRM, FormatDDSketch}

// ParseFormat accepts a format name in any case.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", &histlog.ConfigError{Field: "summary type", Err: fmt.Errorf("unknown format %q", s)}
}

const (
	DefaultTicksPerHalf   = 5
	DefaultBucketSize     = 100
	DefaultValueUnitRatio = 1.0
)

// Options configures a Summarizer and its reports.
type Options struct {
	// IgnoreTag folds every tag into a single total.
	IgnoreTag bool
	// IgnoreTimestamps computes the period as the sum of interval lengths
	// instead of from the time span each log covers.
	IgnoreTimestamps bool

	ValueUnitRatio float64
	BucketSize     int64
	TicksPerHalf   int

	Logger *slog.Logger
}

// DefaultOptions returns the report defaults.
func DefaultOptions() Options {
	return Options{
		ValueUnitRatio: DefaultValueUnitRatio,
		BucketSize:     DefaultBucketSize,
		TicksPerHalf:   DefaultTicksPerHalf,
	}
}

func (o Options) Validate() error {
	if o.ValueUnitRatio <= 0 {
		return &histlog.ConfigError{Field: "value unit ratio", Err: errors.New("must be positive")}
	}
	if o.BucketSize <= 0 {
		return &histlog.ConfigError{Field: "bucket size", Err: errors.New("must be positive")}
	}
	if o.TicksPerHalf <= 0 {
		return &histlog.ConfigError{Field: "ticks per half", Err: errors.New("must be positive")}
	}
	return nil
}

type span struct {
	startMs, endMs int64
}

// Summarizer accumulates interval values from any number of logs.
type Summarizer struct {
	opts   Options
	logger *slog.Logger

	totals map[string]histogram.IntervalValue
	tags   []string

	periodMs         int64
	intervalLengthMs int64
	intervals        int
}

func NewSummarizer(opts Options) (*Summarizer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		opts:   opts,
		logger: logger,
		totals: make(map[string]histogram.IntervalValue),
	}, nil
}

// Add reads r to the end and closes it. The log contributes the longest time
// span covered by any one of its tags to the period.
func (s *Summarizer) Add(ctx context.Context, r *histlog.OrderedReader) error {
	defer func() { _ = r.Close() }()

	spans := map[string]*span{}
	for r.HasNext() {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := r.NextIntervalValue()
		if err != nil {
			return fmt.Errorf("reading %s: %w", r.Name(), err)
		}
		if v == nil {
			continue
		}

		tag := v.Tag()
		if s.opts.IgnoreTag {
			tag = ""
		}
		total, ok := s.totals[tag]
		if !ok {
			total = v.NewEmpty()
			total.SetTag(tag)
			s.totals[tag] = total
			s.tags = append(s.tags, tag)
		}
		if err := total.Merge(v); err != nil {
			return fmt.Errorf("adding interval from %s: %w", r.Name(), err)
		}

		sp, ok := spans[tag]
		if !ok {
			sp = &span{startMs: v.StartTimestampMs(), endMs: v.EndTimestampMs()}
			spans[tag] = sp
		}
		sp.startMs = min(sp.startMs, v.StartTimestampMs())
		sp.endMs = max(sp.endMs, v.EndTimestampMs())
		s.intervalLengthMs += v.EndTimestampMs() - v.StartTimestampMs()

		if s.logger.Enabled(ctx, slog.LevelDebug) {
			s.logger.Debug(Describe(v, s.intervals, s.opts.ValueUnitRatio))
		}
		s.intervals++
	}

	var longest int64
	for _, sp := range spans {
		longest = max(longest, sp.endMs-sp.startMs)
	}
	s.periodMs += longest
	return nil
}

// PeriodMs returns the time the summarized intervals cover.
func (s *Summarizer) PeriodMs() int64 {
	if s.opts.IgnoreTimestamps {
		return s.intervalLengthMs
	}
	return s.periodMs
}

// Tags returns the accumulated tags in first-seen order.
func (s *Summarizer) Tags() []string {
	return append([]string(nil), s.tags...)
}

// Total returns the accumulated value for tag, or nil.
func (s *Summarizer) Total(tag string) histogram.IntervalValue {
	return s.totals[tag]
}

// Intervals returns how many interval values were added.
func (s *Summarizer) Intervals() int { return s.intervals }
