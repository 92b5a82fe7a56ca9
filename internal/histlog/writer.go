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

package histlog

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/cardinalhq/hdrlog/internal/histogram"
)

const (
	LogFormatVersion = "1.3"
	Legend           = `"StartTimestamp","Interval_Length","Interval_Max","Interval_Compressed_Histogram"`

	// DefaultMaxValueUnitRatio scales the max column the way HdrHistogram's
	// own writer does, reporting nanosecond recordings in milliseconds.
	DefaultMaxValueUnitRatio = 1_000_000.0
)

// WriterOptions configures a Writer.
type WriterOptions struct {
	// Comment is written as a "#" line after the format version.
	Comment           string
	MaxValueUnitRatio float64
}

// Writer writes interval values in histogram log format. It satisfies the
// union engine's sink contract.
type Writer struct {
	w          io.Writer
	opts       WriterOptions
	baseTimeMs int64
	started    bool
	written    int64
}

// NewWriter returns a Writer on w. The caller owns w.
func NewWriter(w io.Writer, opts WriterOptions) *Writer {
	if opts.MaxValueUnitRatio <= 0 {
		opts.MaxValueUnitRatio = DefaultMaxValueUnitRatio
	}
	return &Writer{w: w, opts: opts}
}

// StartTime writes the log header. A non-zero start time is also used as the
// base time that interval timestamps are written relative to.
func (w *Writer) StartTime(sec float64) error {
	if w.started {
		return fmt.Errorf("log header already written")
	}
	w.started = true

	if _, err := fmt.Fprintf(w.w, "#[Histogram log format version %s]\n", LogFormatVersion); err != nil {
		return err
	}
	if w.opts.Comment != "" {
		if _, err := fmt.Fprintf(w.w, "#%s\n", w.opts.Comment); err != nil {
			return err
		}
	}
	if sec != 0 {
		w.baseTimeMs = int64(math.Round(sec * 1000))
		baseSec := float64(w.baseTimeMs) / 1000.0
		if _, err := fmt.Fprintf(w.w, "#[BaseTime: %.3f (seconds since epoch)]\n", baseSec); err != nil {
			return err
		}
		when := time.UnixMilli(w.baseTimeMs).UTC().Format(time.UnixDate)
		if _, err := fmt.Fprintf(w.w, "#[StartTime: %.3f (seconds since epoch), %s]\n", baseSec, when); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w.w, Legend)
	return err
}

// Accept writes one interval line.
func (w *Writer) Accept(v histogram.IntervalValue) error {
	if !w.started {
		if err := w.StartTime(0); err != nil {
			return err
		}
	}

	payload, err := v.Encode()
	if err != nil {
		return err
	}

	var tag string
	if v.Tag() != "" {
		tag = tagPrefix + v.Tag() + ","
	}
	start := float64(v.StartTimestampMs()-w.baseTimeMs) / 1000.0
	length := float64(v.EndTimestampMs()-v.StartTimestampMs()) / 1000.0
	maxValue := float64(v.MaxValue()) / w.opts.MaxValueUnitRatio

	if _, err := fmt.Fprintf(w.w, "%s%.3f,%.3f,%.3f,%s\n", tag, start, length, maxValue, payload); err != nil {
		return err
	}
	w.written++
	linesWrittenCounter.Add(context.Background(), 1)
	return nil
}

// Written returns the number of interval lines written.
func (w *Writer) Written() int64 { return w.written }
