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
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/hdrlog/internal/constants"
	"github.com/cardinalhq/hdrlog/internal/histogram"
)

const epochStart = 1_700_000_000.0

func TestReaderInfersAbsoluteTimeBase(t *testing.T) {
	log := intervalLine(t, "", epochStart, 1, 100) +
		intervalLine(t, "", epochStart+1, 1, 200)

	r, _ := newTestReader(t, log, DefaultReaderOptions())
	values := readAll(t, r)

	require.Len(t, values, 2)
	assert.Equal(t, epochStart, r.StartTimeSec())
	assert.Equal(t, 0.0, r.BaseTimeSec())
	assert.Equal(t, int64(1_700_000_000_000), values[0].StartTimestampMs())
	assert.Equal(t, int64(1_700_000_001_000), values[0].EndTimestampMs())
	assert.Equal(t, int64(1_700_000_001_000), values[1].StartTimestampMs())
}

func TestReaderInfersRelativeTimeBase(t *testing.T) {
	log := "#[StartTime: 1700000000.000 (seconds since epoch), Tue Nov 14 22:13:20 UTC 2023]\n" +
		intervalLine(t, "", 0, 1, 100) +
		intervalLine(t, "", 1.5, 0.5, 200)

	r, _ := newTestReader(t, log, DefaultReaderOptions())
	values := readAll(t, r)

	require.Len(t, values, 2)
	assert.Equal(t, epochStart, r.BaseTimeSec())
	assert.Equal(t, int64(1_700_000_000_000), values[0].StartTimestampMs())
	assert.Equal(t, int64(1_700_000_001_500), values[1].StartTimestampMs())
	assert.Equal(t, int64(1_700_000_002_000), values[1].EndTimestampMs())
}

func TestReaderUsesExplicitBaseTime(t *testing.T) {
	log := "#[BaseTime: 1000.000 (seconds since epoch)]\n" +
		"#[StartTime: 1010.000 (seconds since epoch)]\n" +
		intervalLine(t, "", 10, 1, 100) +
		intervalLine(t, "", 12, 1, 100)

	opts := DefaultReaderOptions()
	opts.RangeStartSec = 1
	r, _ := newTestReader(t, log, opts)
	values := readAll(t, r)

	require.Len(t, values, 1)
	assert.Equal(t, int64(1_012_000), values[0].StartTimestampMs())
	assert.Equal(t, int64(1), r.Stats().TooEarly)
}

func TestReaderRangeEndIsFinal(t *testing.T) {
	log := intervalLine(t, "", epochStart, 1, 1) +
		intervalLine(t, "", epochStart+1, 1, 1) +
		intervalLine(t, "", epochStart+2, 1, 1) +
		intervalLine(t, "", epochStart+3, 1, 1) +
		intervalLine(t, "", epochStart+1, 1, 1)

	opts := DefaultReaderOptions()
	opts.RangeStartSec = 1.5
	opts.RangeEndSec = 2.5
	r, rc := newTestReader(t, log, opts)

	require.True(t, r.HasNext())
	v, err := r.NextIntervalValue()
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, int64(1_700_000_002_000), v.StartTimestampMs())

	require.True(t, r.HasNext())
	v, err = r.NextIntervalValue()
	require.NoError(t, err)
	assert.Nil(t, v)

	assert.False(t, r.HasNext())
	assert.Equal(t, 1, rc.closed)

	v, err = r.NextIntervalValue()
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.False(t, r.HasNext())
}

func TestReaderAbsoluteRange(t *testing.T) {
	log := intervalLine(t, "", epochStart, 1, 1) +
		intervalLine(t, "", epochStart+1, 1, 1) +
		intervalLine(t, "", epochStart+2, 1, 1)

	opts := DefaultReaderOptions()
	opts.Absolute = true
	opts.RangeStartSec = epochStart + 1
	opts.RangeEndSec = epochStart + 1
	r, _ := newTestReader(t, log, opts)
	values := readAll(t, r)

	require.Len(t, values, 1)
	assert.Equal(t, int64(1_700_000_001_000), values[0].StartTimestampMs())
}

func TestReaderExcludedTagsAreNeverDecoded(t *testing.T) {
	calls := 0
	opts := DefaultReaderOptions()
	opts.Decoder = func(p string) (histogram.IntervalValue, error) {
		calls++
		return histogram.DecodeString(p)
	}
	opts.ExcludeTag = func(tag string) bool { return tag == "B" }

	log := intervalLine(t, "A", 0, 1, 1) +
		intervalLine(t, "B", 1, 1, 1) +
		intervalLine(t, "A", 2, 1, 1)
	r, _ := newTestReader(t, log, opts)
	values := readAll(t, r)

	require.Len(t, values, 2)
	assert.Equal(t, 2, calls)
	for _, v := range values {
		assert.Equal(t, "A", v.Tag())
	}
	assert.Equal(t, int64(1), r.Stats().Excluded)
}

func TestReaderSkipsUndecodablePayloads(t *testing.T) {
	log := "0.000,1.000,1.000,not-a-histogram\n" +
		intervalLine(t, "", 1, 1, 42)

	r, _ := newTestReader(t, log, DefaultReaderOptions())

	require.True(t, r.HasNext())
	v, err := r.NextIntervalValue()
	require.NoError(t, err)
	assert.Nil(t, v)

	require.True(t, r.HasNext())
	v, err = r.NextIntervalValue()
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, int64(42), v.MaxValue())
	assert.Equal(t, int64(1), r.Stats().DecodeErrors)
}

func TestReaderRejectsInvertedRange(t *testing.T) {
	opts := DefaultReaderOptions()
	opts.RangeStartSec = 10
	opts.RangeEndSec = 5
	rc := newTrackingCloser("")

	_, err := NewOrderedReader(rc, opts)
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "range", ce.Field)
	assert.Equal(t, 1, rc.closed)

	opts.RangeStartSec = math.NaN()
	_, err = NewOrderedReader(newTrackingCloser(""), opts)
	assert.True(t, errors.As(err, &ce))
}

func TestReaderCloseIsIdempotent(t *testing.T) {
	r, rc := newTestReader(t, intervalLine(t, "", 0, 1, 1)+intervalLine(t, "", 1, 1, 1), DefaultReaderOptions())

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, 1, rc.closed)
	assert.False(t, r.HasNext())

	_, err := r.NextIntervalValue()
	assert.ErrorIs(t, err, ErrReaderClosed)
}

func TestReaderReleasesStreamWhenExhausted(t *testing.T) {
	r, rc := newTestReader(t, intervalLine(t, "", 0, 1, 1), DefaultReaderOptions())

	values := readAll(t, r)
	require.Len(t, values, 1)
	assert.Equal(t, 1, rc.closed)

	require.NoError(t, r.Close())
	assert.Equal(t, 1, rc.closed)
}

func TestReaderEmptyLog(t *testing.T) {
	r, _ := newTestReader(t, "#[Histogram log format version 1.3]\n", DefaultReaderOptions())
	assert.Empty(t, readAll(t, r))
	assert.Equal(t, 0.0, r.StartTimeSec())
}

func TestReaderReturnsReadErrorAfterRecords(t *testing.T) {
	errReset := errors.New("connection reset")
	rc := brokenStream(intervalLine(t, "", 0, 1, 10)+intervalLine(t, "", 1, 1, 20), errReset)
	r, err := NewOrderedReader(rc, DefaultReaderOptions())
	require.NoError(t, err)

	var records int
	for r.HasNext() {
		v, err := r.NextIntervalValue()
		if err != nil {
			assert.ErrorIs(t, err, errReset)
			break
		}
		if v != nil {
			records++
		}
	}
	assert.Equal(t, 2, records)
	assert.False(t, r.HasNext())
	assert.Equal(t, 1, rc.closed)
}

func TestReaderSkipsOverlongLines(t *testing.T) {
	log := intervalLine(t, "", 0, 1, 10) +
		longComment(2*constants.MaxLineSizeBytes) +
		intervalLine(t, "", 1, 1, 20)
	r, _ := newTestReader(t, log, DefaultReaderOptions())

	values := readAll(t, r)
	require.Len(t, values, 2)
	assert.Equal(t, int64(20), values[1].MinValue())
	assert.Equal(t, int64(1), r.Stats().ParseErrors)
}

func TestReaderCountsDoubleHistogramPayloads(t *testing.T) {
	raw := binary.BigEndian.AppendUint32(nil, 0x0c72124f)
	raw = append(raw, make([]byte, 16)...)
	double := fmt.Sprintf("0.000,1.000,1.000,%s\n", base64.StdEncoding.EncodeToString(raw))

	r, _ := newTestReader(t, double+intervalLine(t, "", 1, 1, 7), DefaultReaderOptions())
	values := readAll(t, r)

	require.Len(t, values, 1)
	assert.Equal(t, int64(7), values[0].MinValue())
	assert.Equal(t, int64(1), r.Stats().Unsupported)
	assert.Equal(t, int64(0), r.Stats().DecodeErrors)
}
