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

package histogram

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

const (
	DefaultLowestDiscernibleValue int64 = 1
	DefaultHighestTrackableValue  int64 = 3_600_000_000_000
	DefaultSignificantFigures           = 3
)

// HDR is an IntervalValue backed by an HdrHistogram.
// Time bounds and tag live next to the histogram so that merges and
// re-encodes never disturb them.
type HDR struct {
	h       *hdrhistogram.Histogram
	startMs int64
	endMs   int64
	tag     string
}

var _ IntervalValue = (*HDR)(nil)
var _ Distribution = (*HDR)(nil)

// NewHDR returns an empty HDR interval value with the given precision.
func NewHDR(lowest, highest int64, significantFigures int) *HDR {
	return wrap(hdrhistogram.New(lowest, highest, significantFigures))
}

// NewDefaultHDR returns an empty HDR covering one nanosecond to one hour with
// three significant figures.
func NewDefaultHDR() *HDR {
	return NewHDR(DefaultLowestDiscernibleValue, DefaultHighestTrackableValue, DefaultSignificantFigures)
}

func wrap(h *hdrhistogram.Histogram) *HDR {
	return &HDR{
		h:       h,
		startMs: EmptyStartMs,
		endMs:   EmptyEndMs,
	}
}

func (v *HDR) Tag() string                  { return v.tag }
func (v *HDR) SetTag(tag string)            { v.tag = tag }
func (v *HDR) StartTimestampMs() int64      { return v.startMs }
func (v *HDR) SetStartTimestampMs(ms int64) { v.startMs = ms }
func (v *HDR) EndTimestampMs() int64        { return v.endMs }
func (v *HDR) SetEndTimestampMs(ms int64)   { v.endMs = ms }

func (v *HDR) TotalCount() int64 { return v.h.TotalCount() }
func (v *HDR) MinValue() int64   { return v.h.Min() }
func (v *HDR) MaxValue() int64   { return v.h.Max() }
func (v *HDR) Mean() float64     { return v.h.Mean() }
func (v *HDR) StdDev() float64   { return v.h.StdDev() }

// ValueAtPercentile returns the recorded value at percentile p (0..100).
func (v *HDR) ValueAtPercentile(p float64) int64 {
	return v.h.ValueAtQuantile(p)
}

// CountBetweenValues returns the number of recorded values whose bucket
// overlaps the inclusive range [lo, hi].
func (v *HDR) CountBetweenValues(lo, hi int64) int64 {
	var total int64
	v.ForEachBucket(func(from, to, count int64) {
		if to >= lo && from <= hi {
			total += count
		}
	})
	return total
}

// ForEachBucket calls fn for every non-empty value bucket in ascending order.
func (v *HDR) ForEachBucket(fn func(from, to, count int64)) {
	for _, bar := range v.h.Distribution() {
		if bar.Count == 0 {
			continue
		}
		fn(bar.From, bar.To, bar.Count)
	}
}

// RecordValue records a single value, widening the trackable range if needed.
func (v *HDR) RecordValue(value int64) error {
	return v.RecordValues(value, 1)
}

// RecordValues records value n times, widening the trackable range if needed.
func (v *HDR) RecordValues(value, n int64) error {
	if value > v.h.HighestTrackableValue() {
		v.widen(value)
	}
	return v.h.RecordValues(value, n)
}

// Merge adds the recorded values of other into v. Bounds and tag of v are
// left untouched.
func (v *HDR) Merge(other IntervalValue) error {
	o, ok := other.(*HDR)
	if !ok {
		return fmt.Errorf("merge %T into HDR: %w", other, ErrIncompatible)
	}
	if o.h.TotalCount() == 0 {
		return nil
	}
	if m := o.h.Max(); m > v.h.HighestTrackableValue() {
		v.widen(m)
	}
	if dropped := v.h.Merge(o.h); dropped > 0 {
		return fmt.Errorf("merge dropped %d values outside of trackable range", dropped)
	}
	return nil
}

// widen replaces the backing histogram with one able to hold value.
func (v *HDR) widen(value int64) {
	highest := v.h.HighestTrackableValue()
	for highest < value && highest < hdrMaxTrackable/2 {
		highest *= 2
	}
	if highest < value {
		highest = hdrMaxTrackable
	}
	wider := hdrhistogram.New(v.h.LowestTrackableValue(), highest, int(v.h.SignificantFigures()))
	wider.Merge(v.h)
	v.h = wider
}

const hdrMaxTrackable int64 = 1 << 62

// Reset clears recorded values and returns the bounds to the empty sentinel.
func (v *HDR) Reset() {
	v.h.Reset()
	v.startMs = EmptyStartMs
	v.endMs = EmptyEndMs
}

func (v *HDR) NewEmpty() IntervalValue {
	return NewHDR(v.h.LowestTrackableValue(), v.h.HighestTrackableValue(), int(v.h.SignificantFigures()))
}

// Encode returns the base64, V2 compressed encoding of the recorded values.
func (v *HDR) Encode() ([]byte, error) {
	b, err := v.h.Encode(hdrhistogram.V2CompressedEncodingCookieBase)
	if err != nil {
		return nil, fmt.Errorf("encode histogram: %w", err)
	}
	return b, nil
}

// ErrDoubleHistogram is returned for payloads holding a floating point
// DoubleHistogram. hdrhistogram-go only decodes integer histograms.
var ErrDoubleHistogram = errors.New("double histogram payloads are not supported")

const (
	doubleHistogramCookie           uint32 = 0x0c72124e
	compressedDoubleHistogramCookie uint32 = 0x0c72124f
)

// isDoubleHistogram reports whether the base64 payload starts with a
// DoubleHistogram encoding cookie.
func isDoubleHistogram(payload []byte) bool {
	if len(payload) < 8 {
		return false
	}
	var head [6]byte
	n, err := base64.StdEncoding.Decode(head[:], payload[:8])
	if err != nil || n < 4 {
		return false
	}
	cookie := binary.BigEndian.Uint32(head[:4])
	return cookie == doubleHistogramCookie || cookie == compressedDoubleHistogramCookie
}

// Decode reconstructs an HDR interval value from its base64 payload. The
// result has empty bounds and no tag.
func Decode(payload []byte) (*HDR, error) {
	if isDoubleHistogram(payload) {
		return nil, ErrDoubleHistogram
	}
	h, err := hdrhistogram.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode histogram: %w", err)
	}
	return wrap(h), nil
}

// DecodeString is Decode for payload tokens already held as text.
func DecodeString(payload string) (IntervalValue, error) {
	v, err := Decode([]byte(payload))
	if err != nil {
		return nil, err
	}
	return v, nil
}
