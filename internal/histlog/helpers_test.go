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
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/hdrlog/internal/histogram"
)

// trackingCloser records whether the reader released its stream.
type trackingCloser struct {
	io.Reader
	closed int
}

func (c *trackingCloser) Close() error {
	c.closed++
	return nil
}

func newTrackingCloser(text string) *trackingCloser {
	return &trackingCloser{Reader: strings.NewReader(text)}
}

func encodedPayload(t *testing.T, values ...int64) string {
	t.Helper()
	v := histogram.NewDefaultHDR()
	for _, x := range values {
		require.NoError(t, v.RecordValue(x))
	}
	b, err := v.Encode()
	require.NoError(t, err)
	return string(b)
}

// intervalLine formats one log line the way HdrHistogram writers do.
func intervalLine(t *testing.T, tag string, startSec, lengthSec float64, values ...int64) string {
	t.Helper()
	prefix := ""
	if tag != "" {
		prefix = "Tag=" + tag + ","
	}
	return fmt.Sprintf("%s%.3f,%.3f,%.3f,%s\n", prefix, startSec, lengthSec, 1.0, encodedPayload(t, values...))
}

func newTestReader(t *testing.T, text string, opts ReaderOptions) (*OrderedReader, *trackingCloser) {
	t.Helper()
	rc := newTrackingCloser(text)
	r, err := NewOrderedReader(rc, opts)
	require.NoError(t, err)
	return r, rc
}

func readAll(t *testing.T, r *OrderedReader) []histogram.IntervalValue {
	t.Helper()
	var out []histogram.IntervalValue
	for r.HasNext() {
		v, err := r.NextIntervalValue()
		require.NoError(t, err)
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

// recordingHandler captures scanner events as strings.
type recordingHandler struct {
	events   []string
	payloads []*LazyPayload
	errs     []error
	stopOn   string
}

func (h *recordingHandler) add(ev string) Signal {
	h.events = append(h.events, ev)
	if h.stopOn != "" && strings.HasPrefix(ev, h.stopOn) {
		return Stop
	}
	return Continue
}

func (h *recordingHandler) OnComment(text string) Signal {
	return h.add("comment:" + text)
}

func (h *recordingHandler) OnBaseTime(sec float64) Signal {
	return h.add(fmt.Sprintf("base:%.3f", sec))
}

func (h *recordingHandler) OnStartTime(sec float64) Signal {
	return h.add(fmt.Sprintf("start:%.3f", sec))
}

func (h *recordingHandler) OnHistogram(tag string, ts, length float64, p *LazyPayload) Signal {
	h.payloads = append(h.payloads, p)
	return h.add(fmt.Sprintf("hist:%s:%.3f:%.3f", tag, ts, length))
}

func (h *recordingHandler) OnError(err error) Signal {
	h.errs = append(h.errs, err)
	return h.add("error")
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// brokenStream serves text and then fails every read with err.
func brokenStream(text string, err error) *trackingCloser {
	return &trackingCloser{Reader: io.MultiReader(strings.NewReader(text), errReader{err: err})}
}

func longComment(n int) string {
	return "#" + strings.Repeat("x", n) + "\n"
}
