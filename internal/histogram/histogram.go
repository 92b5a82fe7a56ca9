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

// Package histogram defines the interval value carried by histogram logs and
// its HdrHistogram-backed implementation.
//
// An interval value is one time-windowed latency or throughput distribution.
// Readers decode them from log payloads, the union engine merges them into
// per-tag windows and writers encode them back. Everything outside of this
// package treats the recorded distribution as opaque and only relies on the
// IntervalValue contract.
package histogram

import (
	"errors"
	"math"
)

const (
	// EmptyStartMs and EmptyEndMs are the bounds of an accumulator that has not
	// absorbed any interval yet.
	EmptyStartMs int64 = math.MaxInt64
	EmptyEndMs   int64 = 0
)

// ErrIncompatible is returned when two interval values with different
// implementations are merged.
var ErrIncompatible = errors.New("incompatible interval value implementations")

// IntervalValue is one interval distribution read from, or written to, a
// histogram log.
//
// Merge accumulates the recorded values of other into the receiver. It never
// copies time bounds or tag: those are owned by the receiving accumulator.
type IntervalValue interface {
	Tag() string
	SetTag(tag string)

	StartTimestampMs() int64
	SetStartTimestampMs(ms int64)
	EndTimestampMs() int64
	SetEndTimestampMs(ms int64)

	TotalCount() int64
	MinValue() int64
	MaxValue() int64
	Mean() float64
	ValueAtPercentile(p float64) int64
	CountBetweenValues(lo, hi int64) int64

	Merge(other IntervalValue) error
	Reset()

	// NewEmpty returns an empty accumulator with the same precision as the
	// receiver, empty bounds and no tag.
	NewEmpty() IntervalValue

	// Encode returns the base64 text form used as a log line payload.
	Encode() ([]byte, error)
}

// Distribution is implemented by interval values that can enumerate their
// value buckets. Summary outputs that need the full shape use it.
type Distribution interface {
	ForEachBucket(fn func(from, to, count int64))
	StdDev() float64
}

// IsEmpty reports whether v still has the empty sentinel bounds.
func IsEmpty(v IntervalValue) bool {
	return v.StartTimestampMs() == EmptyStartMs
}

// LengthMs returns the covered time span of v in milliseconds.
func LengthMs(v IntervalValue) int64 {
	if IsEmpty(v) {
		return 0
	}
	return v.EndTimestampMs() - v.StartTimestampMs()
}
