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
	"cmp"
	"io"

	"github.com/cardinalhq/hdrlog/internal/histogram"
)

// TagSeparator joins an input's tag prefix with the record's own tag.
const TagSeparator = "::"

// OrderedIterator is a peekable stream of interval values from one
// OrderedReader, optionally rebased to the log's start time and re-tagged.
type OrderedIterator struct {
	reader    *OrderedReader
	tagPrefix string
	relative  bool
	next      histogram.IntervalValue
}

// NewOrderedIterator wraps r and buffers its first interval value.
//
// When relative is set, timestamps are shifted so that the log's start time
// becomes zero. When tagPrefix is not empty, untagged values are tagged with
// it and tagged values become "<tagPrefix>::<tag>".
func NewOrderedIterator(r *OrderedReader, tagPrefix string, relative bool) (*OrderedIterator, error) {
	it := &OrderedIterator{
		reader:    r,
		tagPrefix: tagPrefix,
		relative:  relative,
	}
	if err := it.fill(); err != nil {
		return nil, err
	}
	return it, nil
}

// fill reads until the reader yields a value or runs dry.
func (it *OrderedIterator) fill() error {
	it.next = nil
	for it.reader.HasNext() {
		v, err := it.reader.NextIntervalValue()
		if err != nil {
			return err
		}
		if v != nil {
			it.next = it.transform(v)
			return nil
		}
	}
	return nil
}

func (it *OrderedIterator) transform(v histogram.IntervalValue) histogram.IntervalValue {
	if it.relative {
		length := v.EndTimestampMs() - v.StartTimestampMs()
		start := int64(float64(v.StartTimestampMs()) - it.reader.StartTimeSec()*1000)
		v.SetStartTimestampMs(start)
		v.SetEndTimestampMs(start + length)
	}
	if it.tagPrefix != "" {
		if v.Tag() == "" {
			v.SetTag(it.tagPrefix)
		} else {
			v.SetTag(it.tagPrefix + TagSeparator + v.Tag())
		}
	}
	return v
}

// HasNext reports whether a value is buffered.
func (it *OrderedIterator) HasNext() bool {
	return it.next != nil
}

// Peek returns the buffered value without consuming it, or nil.
func (it *OrderedIterator) Peek() histogram.IntervalValue {
	return it.next
}

// Next returns the buffered value and buffers the following one. It returns
// io.EOF when nothing is buffered.
func (it *OrderedIterator) Next() (histogram.IntervalValue, error) {
	v := it.next
	if v == nil {
		return nil, io.EOF
	}
	if err := it.fill(); err != nil {
		return nil, err
	}
	return v, nil
}

// StartTimeSec returns the underlying log's resolved start time.
func (it *OrderedIterator) StartTimeSec() float64 {
	return it.reader.StartTimeSec()
}

// Name returns the underlying reader's input name.
func (it *OrderedIterator) Name() string {
	return it.reader.Name()
}

// Compare orders iterators by the start time of their buffered values. An
// exhausted iterator sorts after every iterator that still has a value.
func (it *OrderedIterator) Compare(other *OrderedIterator) int {
	switch {
	case !it.HasNext() && !other.HasNext():
		return 0
	case !it.HasNext():
		return 1
	case !other.HasNext():
		return -1
	}
	return cmp.Compare(it.next.StartTimestampMs(), other.next.StartTimestampMs())
}

// Close closes the underlying reader.
func (it *OrderedIterator) Close() error {
	it.next = nil
	return it.reader.Close()
}
