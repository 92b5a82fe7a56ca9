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

package summary

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/DataDog/sketches-go/ddsketch/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/hdrlog/internal/histlog"
	"github.com/cardinalhq/hdrlog/internal/histogram"
)

// oneToHundred records 1..100 once each; every percentile is exact.
func oneToHundred(t *testing.T) *histogram.HDR {
	t.Helper()
	v := histogram.NewDefaultHDR()
	for i := int64(1); i <= 100; i++ {
		require.NoError(t, v.RecordValue(i))
	}
	return v
}

type logLine struct {
	tag      string
	startSec float64
	lenSec   float64
}

func buildLog(t *testing.T, lines ...logLine) string {
	t.Helper()
	payload, err := oneToHundred(t).Encode()
	require.NoError(t, err)
	var sb strings.Builder
	for _, l := range lines {
		if l.tag != "" {
			sb.WriteString("Tag=" + l.tag + ",")
		}
		fmt.Fprintf(&sb, "%.3f,%.3f,0.100,%s\n", l.startSec, l.lenSec, payload)
	}
	return sb.String()
}

func summarize(t *testing.T, opts Options, logs ...string) *Summarizer {
	t.Helper()
	s, err := NewSummarizer(opts)
	require.NoError(t, err)
	for _, text := range logs {
		r, err := histlog.NewOrderedReader(io.NopCloser(strings.NewReader(text)), histlog.DefaultReaderOptions())
		require.NoError(t, err)
		require.NoError(t, s.Add(context.Background(), r))
	}
	return s
}

func TestParseFormat(t *testing.T) {
	for _, f := range Formats {
		got, err := ParseFormat(strings.ToUpper(string(f)))
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}

	_, err := ParseFormat("xml")
	var ce *histlog.ConfigError
	assert.True(t, errors.As(err, &ce))
}

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())

	bad := DefaultOptions()
	bad.BucketSize = 0
	assert.Error(t, bad.Validate())

	bad = DefaultOptions()
	bad.ValueUnitRatio = -1
	_, err := NewSummarizer(bad)
	var ce *histlog.ConfigError
	assert.True(t, errors.As(err, &ce))
}

func TestSummarizerPeriod(t *testing.T) {
	first := buildLog(t,
		logLine{"", 0, 1},
		logLine{"A", 0, 0.5},
		logLine{"", 1, 1},
	)
	second := buildLog(t, logLine{"", 10, 3})

	s := summarize(t, DefaultOptions(), first, second)
	assert.Equal(t, []string{"", "A"}, s.Tags())
	assert.Equal(t, int64(5000), s.PeriodMs())
	assert.Equal(t, int64(300), s.Total("").TotalCount())
	assert.Equal(t, int64(100), s.Total("A").TotalCount())
	assert.Equal(t, 4, s.Intervals())

	opts := DefaultOptions()
	opts.IgnoreTimestamps = true
	s = summarize(t, opts, first, second)
	assert.Equal(t, int64(5500), s.PeriodMs())

	opts = DefaultOptions()
	opts.IgnoreTag = true
	s = summarize(t, opts, first, second)
	assert.Equal(t, []string{""}, s.Tags())
	assert.Equal(t, int64(400), s.Total("").TotalCount())
}

func TestReportPercentiles(t *testing.T) {
	s := summarize(t, DefaultOptions(), buildLog(t, logLine{"", 0, 1}, logLine{"A", 0, 1}))

	var buf bytes.Buffer
	require.NoError(t, s.Report(&buf, "", FormatPercentiles))
	assert.Equal(t, "TotalCount=100\n"+
		"Period(ms)=1000\n"+
		"Throughput(ops/sec)=100.00\n"+
		"Min=1\n"+
		"Mean=50.50\n"+
		"50.000ptile=50\n"+
		"90.000ptile=90\n"+
		"99.000ptile=99\n"+
		"99.900ptile=100\n"+
		"99.990ptile=100\n"+
		"99.999ptile=100\n"+
		"Max=100\n", buf.String())

	buf.Reset()
	require.NoError(t, s.Report(&buf, "A", FormatPercentiles))
	assert.True(t, strings.HasPrefix(buf.String(), "A.TotalCount=100\nA.Period(ms)=1000\n"))
}

func TestReportCSV(t *testing.T) {
	opts := DefaultOptions()
	opts.BucketSize = 25
	s := summarize(t, opts, buildLog(t, logLine{"", 0, 1}))

	var buf bytes.Buffer
	require.NoError(t, s.Report(&buf, "", FormatCSV))
	assert.Equal(t, "BucketStart, Count\n0,25\n25,26\n50,26\n75,26\n", buf.String())
}

func TestReportHGRM(t *testing.T) {
	s := summarize(t, DefaultOptions(), buildLog(t, logLine{"", 0, 1}))

	var buf bytes.Buffer
	require.NoError(t, s.Report(&buf, "", FormatHGRM))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")

	assert.Equal(t, "       Value     Percentile TotalCount 1/(1-Percentile)", lines[0])
	assert.Equal(t, "", lines[1])
	assert.Equal(t, "       1.000 0.000000000000          1           1.00", lines[2])
	assert.Equal(t, "     100.000 1.000000000000        100", lines[len(lines)-3])
	assert.True(t, strings.HasPrefix(lines[len(lines)-2], "#[Mean    =       50.500, StdDeviation   = "))
	assert.Equal(t, "#[Max     =      100.000, Total count    =          100]", lines[len(lines)-1])

	// percentile levels never go backwards
	prev := -1.0
	for _, line := range lines[2 : len(lines)-2] {
		var value, pct float64
		_, err := fmt.Sscanf(line, "%f %f", &value, &pct)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, pct, prev)
		prev = pct
	}
}

func TestReportDDSketch(t *testing.T) {
	s := summarize(t, DefaultOptions(), buildLog(t, logLine{"", 0, 1}))

	sk, err := s.Sketch("")
	require.NoError(t, err)
	assert.InDelta(t, 100, sk.GetCount(), 0.001)
	p50, err := sk.GetValueAtQuantile(0.5)
	require.NoError(t, err)
	assert.InEpsilon(t, 50, p50, 0.03)

	var buf bytes.Buffer
	require.NoError(t, s.Report(&buf, "", FormatDDSketch))
	line := strings.TrimSpace(buf.String())
	require.True(t, strings.HasPrefix(line, "DDSketch="))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(line, "DDSketch="))
	require.NoError(t, err)
	decoded, err := ddsketch.DecodeDDSketch(raw, store.DefaultProvider, nil)
	require.NoError(t, err)
	assert.InDelta(t, 100, decoded.GetCount(), 0.001)
}

func TestReportUnknownTag(t *testing.T) {
	s := summarize(t, DefaultOptions(), buildLog(t, logLine{"", 0, 1}))

	err := s.Report(io.Discard, "nope", FormatPercentiles)
	assert.ErrorIs(t, err, ErrUnknownTag)

	_, err = s.Sketch("nope")
	assert.ErrorIs(t, err, ErrUnknownTag)
}

func interval(t *testing.T) *histogram.HDR {
	t.Helper()
	v := oneToHundred(t)
	v.SetStartTimestampMs(1500)
	v.SetEndTimestampMs(2500)
	return v
}

func TestWriteCSVRow(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSVHeader(&buf))
	require.NoError(t, WriteCSVRow(&buf, interval(t)))

	assert.Equal(t, CSVHeader+"\n1.500,100,1,50,50,90,95,99,100,100,100\n", buf.String())
}

func TestDescribe(t *testing.T) {
	v := interval(t)
	assert.Equal(t,
		"default     3: (   1.500 to    2.500) [count=100,min=1,max=100,avg=50.50,50=50,99=99,999=100,ops/s=100.0]",
		Describe(v, 3, 1))

	v.SetTag("gc")
	assert.True(t, strings.HasPrefix(Describe(v, 0, 10), "gc     0: "))
	assert.Contains(t, Describe(v, 0, 10), "max=10,")
}
