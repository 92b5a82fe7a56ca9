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

package summary

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/cardinalhq/hdrlog/internal/histlog"
	"github.com/cardinalhq/hdrlog/internal/histogram"
)

// SketchRelativeAccuracy is the relative accuracy of exported DDSketches.
const SketchRelativeAccuracy = 0.01

// hgrmValueDecimals matches the three significant figures of the default
// accumulator.
const hgrmValueDecimals = 3

var reportPercentiles = []struct {
	label string
	p     float64
}{
	{"50.000", 50},
	{"90.000", 90},
	{"99.000", 99},
	{"99.900", 99.9},
	{"99.990", 99.99},
	{"99.999", 99.999},
}

// ErrUnknownTag is returned when reporting on a tag that was never seen.
var ErrUnknownTag = errors.New("no intervals for tag")

// Report writes the total for tag in format f.
func (s *Summarizer) Report(w io.Writer, tag string, f Format) error {
	total, ok := s.totals[tag]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownTag, histlog.DisplayTag(tag))
	}
	switch f {
	case FormatPercentiles:
		return s.writePercentiles(w, total)
	case FormatCSV:
		return s.writeCSV(w, total)
	case FormatHGRM:
		return s.writeHGRM(w, total)
	case FormatDDSketch:
		return s.writeDDSketch(w, total)
	default:
		return &histlog.ConfigError{Field: "summary type", Err: fmt.Errorf("unknown format %q", f)}
	}
}

func (s *Summarizer) scaled(v int64) int64 {
	return int64(float64(v) / s.opts.ValueUnitRatio)
}

func keyPrefix(tag string) string {
	if tag == "" {
		return ""
	}
	return tag + "."
}

func (s *Summarizer) writePercentiles(w io.Writer, total histogram.IntervalValue) error {
	prefix := keyPrefix(total.Tag())
	period := s.PeriodMs()

	var throughput float64
	if period > 0 {
		throughput = float64(total.TotalCount()) * 1000.0 / float64(period)
	}

	ew := &errWriter{w: w}
	ew.printf("%sTotalCount=%d\n", prefix, total.TotalCount())
	ew.printf("%sPeriod(ms)=%d\n", prefix, period)
	ew.printf("%sThroughput(ops/sec)=%.2f\n", prefix, throughput)
	ew.printf("%sMin=%d\n", prefix, s.scaled(total.MinValue()))
	ew.printf("%sMean=%.2f\n", prefix, total.Mean()/s.opts.ValueUnitRatio)
	for _, rp := range reportPercentiles {
		ew.printf("%s%sptile=%d\n", prefix, rp.label, s.scaled(total.ValueAtPercentile(rp.p)))
	}
	ew.printf("%sMax=%d\n", prefix, s.scaled(total.MaxValue()))
	return ew.err
}

// writeCSV writes counts per fixed size value bucket, in output units.
func (s *Summarizer) writeCSV(w io.Writer, total histogram.IntervalValue) error {
	ratio := s.opts.ValueUnitRatio
	size := s.opts.BucketSize
	minValue := s.scaled(total.MinValue())
	maxValue := s.scaled(total.MaxValue())

	ew := &errWriter{w: w}
	ew.printf("BucketStart, Count\n")
	for start := (minValue / size) * size; start < maxValue && ew.err == nil; start += size {
		lo := int64(float64(start) * ratio)
		hi := int64(float64(start+size) * ratio)
		ew.printf("%d,%d\n", start, total.CountBetweenValues(lo, hi))
	}
	return ew.err
}

// writeHGRM writes the percentile distribution in the HdrHistogram .hgrm
// layout, stepping through percentiles with ticksPerHalf steps for every
// halving of the distance to 100%.
func (s *Summarizer) writeHGRM(w io.Writer, total histogram.IntervalValue) error {
	dist, ok := total.(histogram.Distribution)
	if !ok {
		return fmt.Errorf("hgrm output needs bucket access, got %T", total)
	}
	ratio := s.opts.ValueUnitRatio
	count := total.TotalCount()

	ew := &errWriter{w: w}
	ew.printf("%12s %14s %10s %14s\n\n", "Value", "Percentile", "TotalCount", "1/(1-Percentile)")

	if count > 0 {
		lineFormat := fmt.Sprintf("%%12.%df %%2.12f %%10d %%14.2f\n", hgrmValueDecimals)
		lastFormat := fmt.Sprintf("%%12.%df %%2.12f %%10d\n", hgrmValueDecimals)

		level := 0.0
		var cumulative, lastTo int64
		done := false
		dist.ForEachBucket(func(_, to, n int64) {
			if done {
				return
			}
			cumulative += n
			lastTo = to
			for 100*float64(cumulative)/float64(count) >= level {
				ew.printf(lineFormat, float64(to)/ratio, level/100, cumulative, 1/(1-level/100))
				level = nextPercentileLevel(level, s.opts.TicksPerHalf)
				if cumulative == count {
					done = true
					return
				}
			}
		})
		ew.printf(lastFormat, float64(lastTo)/ratio, 1.0, count)
	}

	meanFormat := fmt.Sprintf("#[Mean    = %%12.%df, StdDeviation   = %%12.%df]\n", hgrmValueDecimals, hgrmValueDecimals)
	maxFormat := fmt.Sprintf("#[Max     = %%12.%df, Total count    = %%12d]\n", hgrmValueDecimals)
	ew.printf(meanFormat, total.Mean()/ratio, dist.StdDev()/ratio)
	ew.printf(maxFormat, float64(total.MaxValue())/ratio, count)
	return ew.err
}

func nextPercentileLevel(level float64, ticksPerHalf int) float64 {
	halvings := math.Floor(math.Log2(100 / (100 - level)))
	ticks := float64(ticksPerHalf) * math.Pow(2, halvings+1)
	return level + 100/ticks
}

// Sketch converts the total for tag into a DDSketch of output-unit values.
func (s *Summarizer) Sketch(tag string) (*ddsketch.DDSketch, error) {
	total, ok := s.totals[tag]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTag, histlog.DisplayTag(tag))
	}
	return s.sketch(total)
}

func (s *Summarizer) sketch(total histogram.IntervalValue) (*ddsketch.DDSketch, error) {
	dist, ok := total.(histogram.Distribution)
	if !ok {
		return nil, fmt.Errorf("sketch export needs bucket access, got %T", total)
	}
	sk, err := ddsketch.NewDefaultDDSketch(SketchRelativeAccuracy)
	if err != nil {
		return nil, err
	}
	var addErr error
	dist.ForEachBucket(func(from, to, n int64) {
		if addErr != nil {
			return
		}
		mid := (float64(from) + float64(to)) / 2 / s.opts.ValueUnitRatio
		addErr = sk.AddWithCount(mid, float64(n))
	})
	if addErr != nil {
		return nil, fmt.Errorf("building sketch: %w", addErr)
	}
	return sk, nil
}

func (s *Summarizer) writeDDSketch(w io.Writer, total histogram.IntervalValue) error {
	sk, err := s.sketch(total)
	if err != nil {
		return err
	}
	var buf []byte
	sk.Encode(&buf, false)

	ew := &errWriter{w: w}
	ew.printf("%sDDSketch=%s\n", keyPrefix(total.Tag()), base64.StdEncoding.EncodeToString(buf))
	return ew.err
}

// errWriter keeps the first write error and skips later writes.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
