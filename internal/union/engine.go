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

// Package union merges interval values from several time ordered inputs into
// one stream of per-tag windows.
//
// Inputs are consumed in global start time order. Each tag keeps one open
// window; a candidate interval is absorbed into it when it falls inside the
// window or overlaps it by more than OverlapThreshold of its own length, and
// otherwise the window is emitted and a new one is started from the
// candidate. Logs from independently rotated sources rarely share interval
// boundaries, so this trades a small temporal smear for a lossless merge of
// the recorded counts.
package union

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/hdrlog/internal/histogram"
)

// OverlapThreshold is the fraction of a candidate's length that must fall
// inside the open window for a partially overlapping candidate to be absorbed.
const OverlapThreshold = 0.8

// Input is one time ordered stream of interval values.
type Input interface {
	HasNext() bool
	Peek() histogram.IntervalValue
	Next() (histogram.IntervalValue, error)
	StartTimeSec() float64
	Name() string
}

// Sink receives the merged windows. Accept must not retain v: the engine
// reuses the accumulator after it returns.
type Sink interface {
	StartTime(sec float64) error
	Accept(v histogram.IntervalValue) error
}

// Stats describes a finished or running merge.
type Stats struct {
	Inputs    int
	Intervals int64
	Absorbed  int64
	Rollovers int64
	Windows   int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithTargetWindow makes a freshly started window span at least ms
// milliseconds, so that nearby intervals join it instead of rolling over.
func WithTargetWindow(ms int64) Option {
	return func(e *Engine) {
		if ms > 0 {
			e.targetWindowMs = ms
		}
	}
}

// WithRelative reports a start time of zero to the sink, for inputs whose
// timestamps were rebased to their log's start time.
func WithRelative(relative bool) Option {
	return func(e *Engine) {
		e.relative = relative
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

type window struct {
	acc           histogram.IntervalValue
	rolloverIndex int
}

// Engine merges inputs into a sink. It is single use and not safe for
// concurrent callers.
type Engine struct {
	inputs         []Input
	sink           Sink
	targetWindowMs int64
	relative       bool
	logger         *slog.Logger

	windows map[string]*window
	tags    []string
	stats   Stats
}

// New returns an engine over inputs writing to sink.
func New(inputs []Input, sink Sink, opts ...Option) *Engine {
	e := &Engine{
		inputs:  inputs,
		sink:    sink,
		logger:  slog.Default(),
		windows: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.stats.Inputs = len(inputs)
	return e
}

// Stats returns the counters collected so far.
func (e *Engine) Stats() Stats { return e.stats }

// Run merges every input to exhaustion and flushes the open windows. The
// sink's StartTime is called once before any window is emitted, and not at
// all when no input holds an interval.
func (e *Engine) Run(ctx context.Context) error {
	first := e.selectNext()
	if first == nil {
		e.logger.Info("inputs hold no intervals in range", slog.Int("inputs", len(e.inputs)))
		return nil
	}

	startSec := first.StartTimeSec()
	if e.relative {
		startSec = 0
	}
	if err := e.sink.StartTime(startSec); err != nil {
		return fmt.Errorf("writing start time: %w", err)
	}

	for in := first; in != nil; in = e.selectNext() {
		if err := ctx.Err(); err != nil {
			return err
		}
		candidate, err := in.Next()
		if err != nil {
			return fmt.Errorf("reading %s: %w", in.Name(), err)
		}
		e.stats.Intervals++
		intervalsCounter.Add(ctx, 1)
		if err := e.place(ctx, candidate); err != nil {
			return err
		}
	}

	for _, tag := range e.tags {
		w := e.windows[tag]
		if histogram.IsEmpty(w.acc) {
			continue
		}
		if err := e.emit(ctx, w); err != nil {
			return err
		}
	}

	e.logger.Debug("union complete",
		slog.Int("inputs", e.stats.Inputs),
		slog.Int64("intervals", e.stats.Intervals),
		slog.Int64("absorbed", e.stats.Absorbed),
		slog.Int64("rollovers", e.stats.Rollovers),
		slog.Int64("windows", e.stats.Windows))
	return nil
}

// selectNext returns the input whose buffered value starts first, or nil
// when all inputs are exhausted. Ties go to the earlier input.
func (e *Engine) selectNext() Input {
	var selected Input
	var minStart int64
	for _, in := range e.inputs {
		if !in.HasNext() {
			continue
		}
		start := in.Peek().StartTimestampMs()
		if selected == nil || start < minStart {
			selected = in
			minStart = start
		}
	}
	return selected
}

func (e *Engine) windowFor(tag string, candidate histogram.IntervalValue) *window {
	if w, ok := e.windows[tag]; ok {
		return w
	}
	acc := candidate.NewEmpty()
	acc.SetTag(tag)
	w := &window{acc: acc}
	e.windows[tag] = w
	e.tags = append(e.tags, tag)
	return w
}

// place applies one candidate to its tag's window.
func (e *Engine) place(ctx context.Context, c histogram.IntervalValue) error {
	w := e.windowFor(c.Tag(), c)

	wStart, wEnd := w.acc.StartTimestampMs(), w.acc.EndTimestampMs()
	cStart, cEnd := c.StartTimestampMs(), c.EndTimestampMs()

	switch {
	case wStart == histogram.EmptyStartMs:
		return e.start(w, c)
	case cStart < wEnd && cEnd <= wEnd:
		return e.absorb(w, c)
	case cStart < wEnd:
		overlap := float64(wEnd-cStart) / float64(cEnd-cStart)
		if overlap > OverlapThreshold {
			if err := e.absorb(w, c); err != nil {
				return err
			}
			// keep the window from growing with every trailing candidate
			w.acc.SetStartTimestampMs(wStart)
			w.acc.SetEndTimestampMs(wEnd)
			return nil
		}
	}

	return e.rollover(ctx, w, c)
}

// start absorbs c into an empty window and stretches the window to the
// target width.
func (e *Engine) start(w *window, c histogram.IntervalValue) error {
	if err := e.absorb(w, c); err != nil {
		return err
	}
	if e.targetWindowMs > 0 {
		end := max(c.EndTimestampMs(), w.acc.StartTimestampMs()+e.targetWindowMs)
		w.acc.SetEndTimestampMs(end)
	}
	return nil
}

func (e *Engine) absorb(w *window, c histogram.IntervalValue) error {
	if err := w.acc.Merge(c); err != nil {
		return fmt.Errorf("merging interval [%d,%d) into window %q: %w",
			c.StartTimestampMs(), c.EndTimestampMs(), w.acc.Tag(), err)
	}
	w.acc.SetStartTimestampMs(min(w.acc.StartTimestampMs(), c.StartTimestampMs()))
	w.acc.SetEndTimestampMs(max(w.acc.EndTimestampMs(), c.EndTimestampMs()))
	e.stats.Absorbed++
	if e.logger.Enabled(context.Background(), slog.LevelDebug) {
		e.logger.Debug("absorbed interval",
			slog.String("tag", c.Tag()),
			slog.Int64("startMs", c.StartTimestampMs()),
			slog.Int64("endMs", c.EndTimestampMs()),
			slog.Int64("count", c.TotalCount()))
	}
	return nil
}

// rollover emits the window and restarts it from c.
func (e *Engine) rollover(ctx context.Context, w *window, c histogram.IntervalValue) error {
	if err := e.emit(ctx, w); err != nil {
		return err
	}
	w.acc.Reset()
	w.acc.SetTag(c.Tag())
	w.rolloverIndex++
	e.stats.Rollovers++
	rolloverCounter.Add(ctx, 1)
	return e.start(w, c)
}

func (e *Engine) emit(ctx context.Context, w *window) error {
	e.logger.Debug("emitting window",
		slog.String("tag", w.acc.Tag()),
		slog.Int("rollover", w.rolloverIndex),
		slog.Int64("startMs", w.acc.StartTimestampMs()),
		slog.Int64("endMs", w.acc.EndTimestampMs()),
		slog.Int64("count", w.acc.TotalCount()))
	if err := e.sink.Accept(w.acc); err != nil {
		return fmt.Errorf("writing window %q: %w", w.acc.Tag(), err)
	}
	e.stats.Windows++
	windowsCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.Bool("rollover", w.rolloverIndex > 0),
	))
	return nil
}
