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
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIterator(t *testing.T, text, prefix string, relative bool) *OrderedIterator {
	t.Helper()
	r, _ := newTestReader(t, text, DefaultReaderOptions())
	it, err := NewOrderedIterator(r, prefix, relative)
	require.NoError(t, err)
	return it
}

func TestIteratorRelativeRebase(t *testing.T) {
	log := intervalLine(t, "", epochStart+0.5, 1, 1) +
		intervalLine(t, "", epochStart+2, 0.25, 1)
	it := newTestIterator(t, log, "", true)

	v, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.StartTimestampMs())
	assert.Equal(t, int64(1000), v.EndTimestampMs())

	v, err = it.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(1500), v.StartTimestampMs())
	assert.Equal(t, int64(1750), v.EndTimestampMs())

	assert.False(t, it.HasNext())
	_, err = it.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestIteratorTagPrefix(t *testing.T) {
	log := intervalLine(t, "", 0, 1, 1) + intervalLine(t, "gc", 1, 1, 1)
	it := newTestIterator(t, log, "host1", false)

	v, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, "host1", v.Tag())

	v, err = it.Next()
	require.NoError(t, err)
	assert.Equal(t, "host1::gc", v.Tag())
}

func TestIteratorPeekDoesNotConsume(t *testing.T) {
	it := newTestIterator(t, intervalLine(t, "", 0, 1, 7), "", false)

	require.True(t, it.HasNext())
	peeked := it.Peek()
	assert.Same(t, peeked, it.Peek())

	v, err := it.Next()
	require.NoError(t, err)
	assert.Same(t, peeked, v)
	assert.Nil(t, it.Peek())
}

func TestIteratorSkipsRecordsWithoutValues(t *testing.T) {
	log := "0.000,1.000,1.000,broken\n" +
		"1.000,1.000\n" +
		intervalLine(t, "", 2, 1, 9)
	it := newTestIterator(t, log, "", false)

	require.True(t, it.HasNext())
	assert.Equal(t, int64(9), it.Peek().MaxValue())
}

func TestIteratorCompare(t *testing.T) {
	early := newTestIterator(t, intervalLine(t, "", 10, 1, 1), "", false)
	late := newTestIterator(t, intervalLine(t, "", 20, 1, 1), "", false)
	empty := newTestIterator(t, "", "", false)

	assert.Equal(t, -1, early.Compare(late))
	assert.Equal(t, 1, late.Compare(early))
	assert.Equal(t, 0, early.Compare(early))
	assert.Equal(t, -1, late.Compare(empty))
	assert.Equal(t, 1, empty.Compare(early))
	assert.Equal(t, 0, empty.Compare(empty))
}

func TestIteratorCloseClosesReader(t *testing.T) {
	r, rc := newTestReader(t, intervalLine(t, "", 0, 1, 1)+intervalLine(t, "", 1, 1, 1), DefaultReaderOptions())
	it, err := NewOrderedIterator(r, "", false)
	require.NoError(t, err)

	require.NoError(t, it.Close())
	assert.Equal(t, 1, rc.closed)
	assert.False(t, it.HasNext())
}

func TestIteratorReturnsReadErrors(t *testing.T) {
	errReset := errors.New("connection reset")
	r, err := NewOrderedReader(brokenStream(intervalLine(t, "", 0, 1, 10)+intervalLine(t, "", 1, 1, 20), errReset), DefaultReaderOptions())
	require.NoError(t, err)
	it, err := NewOrderedIterator(r, "", false)
	require.NoError(t, err)

	v, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(10), v.MinValue())

	_, err = it.Next()
	assert.ErrorIs(t, err, errReset)
}

func TestIteratorConstructorReturnsReadErrors(t *testing.T) {
	errReset := errors.New("connection reset")
	r, err := NewOrderedReader(brokenStream("", errReset), DefaultReaderOptions())
	require.NoError(t, err)
	_, err = NewOrderedIterator(r, "", false)
	assert.ErrorIs(t, err, errReset)
}

func TestIteratorRelativeRebaseTruncates(t *testing.T) {
	log := "#[StartTime: 1700000000.0004 (seconds since epoch)]\n" +
		intervalLine(t, "", epochStart+1, 1, 1)
	it := newTestIterator(t, log, "", true)

	v, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(999), v.StartTimestampMs())
	assert.Equal(t, int64(1999), v.EndTimestampMs())
}
