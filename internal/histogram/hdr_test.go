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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recorded(t *testing.T, values ...int64) *HDR {
	t.Helper()
	v := NewDefaultHDR()
	for _, x := range values {
		require.NoError(t, v.RecordValue(x))
	}
	return v
}

func TestHDREncodeDecodeRoundTrip(t *testing.T) {
	v := recorded(t, 100, 200, 200, 350, 1_000, 25_000, 1_000_000)

	payload, err := v.Encode()
	require.NoError(t, err)
	require.NotEmpty(t, payload)

	got, err := Decode(payload)
	require.NoError(t, err)

	assert.Equal(t, v.TotalCount(), got.TotalCount())
	assert.Equal(t, v.MinValue(), got.MinValue())
	assert.Equal(t, v.MaxValue(), got.MaxValue())
	assert.InDelta(t, v.Mean(), got.Mean(), 1e-9)
	for _, p := range []float64{0, 50, 90, 99, 99.9, 100} {
		assert.Equal(t, v.ValueAtPercentile(p), got.ValueAtPercentile(p), "percentile %v", p)
	}
	assert.True(t, IsEmpty(got), "decoded values carry no bounds")
	assert.Empty(t, got.Tag())
}

func TestDecodeStringRejectsGarbage(t *testing.T) {
	_, err := DecodeString("not-a-histogram")
	require.Error(t, err)
}

func TestHDRMergeLeavesBoundsAndTag(t *testing.T) {
	acc := recorded(t, 10, 20)
	acc.SetTag("acc")
	acc.SetStartTimestampMs(0)
	acc.SetEndTimestampMs(1000)

	other := recorded(t, 30, 40, 50)
	other.SetTag("other")
	other.SetStartTimestampMs(200)
	other.SetEndTimestampMs(5000)

	require.NoError(t, acc.Merge(other))

	assert.Equal(t, int64(5), acc.TotalCount())
	assert.Equal(t, "acc", acc.Tag())
	assert.Equal(t, int64(0), acc.StartTimestampMs())
	assert.Equal(t, int64(1000), acc.EndTimestampMs())
}

func TestHDRMergeWidensRange(t *testing.T) {
	acc := NewHDR(1, 1_000, 3)
	big := recorded(t, 5_000_000)

	require.NoError(t, acc.Merge(big))
	assert.Equal(t, int64(1), acc.TotalCount())
	assert.GreaterOrEqual(t, acc.MaxValue(), int64(5_000_000))
}

type otherValue struct{ IntervalValue }

func TestHDRMergeIncompatible(t *testing.T) {
	acc := NewDefaultHDR()
	err := acc.Merge(otherValue{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIncompatible))
}

func TestHDRResetAndNewEmpty(t *testing.T) {
	v := recorded(t, 1, 2, 3)
	v.SetStartTimestampMs(10)
	v.SetEndTimestampMs(20)
	v.SetTag("x")

	empty := v.NewEmpty()
	assert.Equal(t, int64(0), empty.TotalCount())
	assert.True(t, IsEmpty(empty))
	assert.Empty(t, empty.Tag())

	v.Reset()
	assert.Equal(t, int64(0), v.TotalCount())
	assert.Equal(t, EmptyStartMs, v.StartTimestampMs())
	assert.Equal(t, EmptyEndMs, v.EndTimestampMs())
	assert.Equal(t, int64(0), LengthMs(v))
}

func TestHDRCountBetweenValues(t *testing.T) {
	v := recorded(t, 10, 20, 30, 40, 500)

	assert.Equal(t, int64(4), v.CountBetweenValues(0, 100))
	assert.Equal(t, int64(2), v.CountBetweenValues(15, 35))
	assert.Equal(t, int64(1), v.CountBetweenValues(400, 600))
	assert.Equal(t, int64(0), v.CountBetweenValues(1_000, 2_000))
}

func TestLengthMs(t *testing.T) {
	v := NewDefaultHDR()
	v.SetStartTimestampMs(1_000)
	v.SetEndTimestampMs(2_500)
	assert.Equal(t, int64(1_500), LengthMs(v))
}

func TestDecodeRejectsDoubleHistograms(t *testing.T) {
	for _, cookie := range []uint32{0x0c72124e, 0x0c72124f} {
		raw := binary.BigEndian.AppendUint32(nil, cookie)
		raw = append(raw, 0, 0, 0, 0, 0, 0, 0, 0)
		payload := base64.StdEncoding.EncodeToString(raw)

		_, err := DecodeString(payload)
		assert.ErrorIs(t, err, ErrDoubleHistogram, "cookie %#x", cookie)
	}

	v := NewDefaultHDR()
	require.NoError(t, v.RecordValue(5))
	b, err := v.Encode()
	require.NoError(t, err)
	assert.False(t, isDoubleHistogram(b))
}
