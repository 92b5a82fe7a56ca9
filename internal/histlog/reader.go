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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/hdrlog/internal/histogram"
)

// RelativeTimestampThresholdSec is how far before the start time the first
// record may be before the log is assumed to use timestamps relative to the
// start time rather than to the epoch.
const RelativeTimestampThresholdSec = 365 * 24 * 3600.0

// TagPredicate reports whether records with the given tag should be skipped.
// The untagged stream is passed as "".
type TagPredicate func(tag string) bool

// ReaderOptions configures an OrderedReader.
type ReaderOptions struct {
	// RangeStartSec and RangeEndSec bound the accepted records. They are
	// compared against offsets from the start time, or against absolute
	// epoch seconds when Absolute is set.
	RangeStartSec float64
	RangeEndSec   float64
	Absolute      bool

	ExcludeTag TagPredicate
	Decoder    Decoder

	// Name identifies the input in logs.
	Name   string
	Logger *slog.Logger
}

// DefaultReaderOptions accepts every record.
func DefaultReaderOptions() ReaderOptions {
	return ReaderOptions{
		RangeStartSec: 0,
		RangeEndSec:   math.MaxFloat64,
	}
}

// Validate checks the range settings.
func (o ReaderOptions) Validate() error {
	if math.IsNaN(o.RangeStartSec) || math.IsNaN(o.RangeEndSec) {
		return &ConfigError{Field: "range", Err: errors.New("range bounds must be numbers")}
	}
	if o.RangeStartSec > o.RangeEndSec {
		return &ConfigError{
			Field: "range",
			Err:   fmt.Errorf("start %g is after end %g", o.RangeStartSec, o.RangeEndSec),
		}
	}
	return nil
}

// ReaderStats counts what an OrderedReader did with the records it saw.
type ReaderStats struct {
	Records      int64
	TooEarly     int64
	Excluded     int64
	ParseErrors  int64
	DecodeErrors int64
	// Unsupported counts payloads in a known but undecodable encoding.
	Unsupported int64
}

// OrderedReader reads interval values from one histogram log in file order,
// resolving the log's time base and filtering by time range and tag before
// paying for payload decoding.
//
// The reader owns its stream and closes it as soon as the log is exhausted,
// the range end is passed, or reading fails.
type OrderedReader struct {
	scanner *Scanner
	closer  io.Closer
	opts    ReaderOptions
	logger  *slog.Logger
	events  *readerEvents

	startTimeSec      float64
	observedStartTime bool
	baseTimeSec       float64
	observedBaseTime  bool

	next     histogram.IntervalValue
	inRange  bool
	released bool
	closed   bool
	stats    ReaderStats
}

// NewOrderedReader returns a reader over rc. It takes ownership of rc.
func NewOrderedReader(rc io.ReadCloser, opts ReaderOptions) (*OrderedReader, error) {
	if err := opts.Validate(); err != nil {
		_ = rc.Close()
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Name != "" {
		logger = logger.With(slog.String("input", opts.Name))
	}

	r := &OrderedReader{
		scanner: NewScanner(rc, WithDecoder(opts.Decoder)),
		closer:  rc,
		opts:    opts,
		logger:  logger,
		inRange: true,
	}
	r.events = &readerEvents{r: r}
	return r, nil
}

// StartTimeSec returns the start time resolved so far, or 0.
func (r *OrderedReader) StartTimeSec() float64 { return r.startTimeSec }

// BaseTimeSec returns the base time resolved so far, or 0.
func (r *OrderedReader) BaseTimeSec() float64 { return r.baseTimeSec }

// Stats returns the record counters collected so far.
func (r *OrderedReader) Stats() ReaderStats { return r.stats }

// Name returns the configured input name.
func (r *OrderedReader) Name() string { return r.opts.Name }

// HasNext reports whether more interval values may be available. Once the
// range end has been passed it stays false. A read error that has not been
// returned yet counts as available: the next call to NextIntervalValue
// returns it.
func (r *OrderedReader) HasNext() bool {
	if r.closed || r.released || !r.inRange {
		return false
	}
	return r.scanner.HasNextLine() || r.scanner.Err() != nil
}

// NextIntervalValue reads up to the next accepted interval. A nil value with a
// nil error means no record was produced by this call; use HasNext to decide
// whether to call again.
func (r *OrderedReader) NextIntervalValue() (histogram.IntervalValue, error) {
	if r.closed {
		return nil, ErrReaderClosed
	}
	if r.released || !r.inRange {
		return nil, nil
	}

	if err := r.scanner.Process(r.events); err != nil {
		r.release()
		return nil, err
	}

	v := r.next
	r.next = nil
	if !r.HasNext() {
		r.release()
	}
	return v, nil
}

// release closes the underlying stream once nothing more will be read.
func (r *OrderedReader) release() {
	if r.released {
		return
	}
	r.released = true
	if err := r.closer.Close(); err != nil {
		r.logger.Warn("failed to close histogram log", slog.Any("error", err))
	}
	r.logger.Debug("histogram log done",
		slog.Int("lines", r.scanner.LineNumber()),
		slog.Int64("records", r.stats.Records),
		slog.Int64("tooEarly", r.stats.TooEarly),
		slog.Int64("excluded", r.stats.Excluded),
		slog.Int64("parseErrors", r.stats.ParseErrors),
		slog.Int64("decodeErrors", r.stats.DecodeErrors),
		slog.Int64("unsupported", r.stats.Unsupported))
}

// Close releases the underlying stream. It is safe to call more than once.
func (r *OrderedReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.released {
		return nil
	}
	r.released = true
	return r.closer.Close()
}

func (r *OrderedReader) countRecord(outcome string) {
	recordsCounter.Add(context.Background(), 1, otelmetric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// readerEvents is the scanner callback side of an OrderedReader.
type readerEvents struct {
	r *OrderedReader
}

var _ EventHandler = (*readerEvents)(nil)

func (e *readerEvents) OnComment(string) Signal {
	return Continue
}

func (e *readerEvents) OnBaseTime(secondsSinceEpoch float64) Signal {
	e.r.baseTimeSec = secondsSinceEpoch
	e.r.observedBaseTime = true
	return Continue
}

func (e *readerEvents) OnStartTime(secondsSinceEpoch float64) Signal {
	e.r.startTimeSec = secondsSinceEpoch
	e.r.observedStartTime = true
	return Continue
}

func (e *readerEvents) OnHistogram(tag string, timestampSec, lengthSec float64, payload *LazyPayload) Signal {
	r := e.r

	if !r.observedStartTime {
		r.startTimeSec = timestampSec
		r.observedStartTime = true
	}
	if !r.observedBaseTime {
		if timestampSec < r.startTimeSec-RelativeTimestampThresholdSec {
			r.baseTimeSec = r.startTimeSec
		} else {
			r.baseTimeSec = 0
		}
		r.observedBaseTime = true
	}

	absoluteStart := timestampSec + r.baseTimeSec
	offsetStart := absoluteStart - r.startTimeSec
	absoluteEnd := absoluteStart + lengthSec

	rangeCheck := offsetStart
	if r.opts.Absolute {
		rangeCheck = absoluteStart
	}

	if rangeCheck < r.opts.RangeStartSec {
		r.stats.TooEarly++
		r.countRecord("too_early")
		return Continue
	}
	if rangeCheck > r.opts.RangeEndSec {
		r.inRange = false
		r.countRecord("past_range")
		return Stop
	}
	if r.opts.ExcludeTag != nil && r.opts.ExcludeTag(tag) {
		r.stats.Excluded++
		r.countRecord("excluded")
		return Continue
	}

	v, err := payload.Decode()
	if errors.Is(err, histogram.ErrDoubleHistogram) {
		r.stats.Unsupported++
		r.countRecord("unsupported")
		if r.stats.Unsupported == 1 {
			r.logger.Warn("skipping double histogram intervals", slog.Int("line", payload.Line()))
		}
		return Stop
	}
	if err != nil {
		r.stats.DecodeErrors++
		decodeErrorsCounter.Add(context.Background(), 1)
		r.logger.Warn("skipping undecodable histogram", slog.Any("error", err))
		return Stop
	}

	v.SetStartTimestampMs(int64(math.Round(absoluteStart * 1000)))
	v.SetEndTimestampMs(int64(math.Round(absoluteEnd * 1000)))
	v.SetTag(tag)
	r.next = v
	r.stats.Records++
	r.countRecord("accepted")
	return Stop
}

func (e *readerEvents) OnError(err error) Signal {
	e.r.stats.ParseErrors++
	e.r.logger.Warn("skipping malformed histogram log line", slog.Any("error", err))
	return Continue
}
