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
	"fmt"
	"io"

	"github.com/cardinalhq/hdrlog/internal/histlog"
	"github.com/cardinalhq/hdrlog/internal/histogram"
)

// CSVHeader heads the one-row-per-interval CSV export.
const CSVHeader = "#Timestamp,Throughput,Min,Avg,p50,p90,p95,p99,p999,p9999,Max"

func WriteCSVHeader(w io.Writer) error {
	_, err := fmt.Fprintln(w, CSVHeader)
	return err
}

// WriteCSVRow writes one interval as a CSV row. Throughput is the interval's
// total count.
func WriteCSVRow(w io.Writer, v histogram.IntervalValue) error {
	_, err := fmt.Fprintf(w, "%.3f,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d\n",
		float64(v.StartTimestampMs())/1000.0,
		v.TotalCount(),
		v.MinValue(),
		int64(v.Mean()),
		v.ValueAtPercentile(50),
		v.ValueAtPercentile(90),
		v.ValueAtPercentile(95),
		v.ValueAtPercentile(99),
		v.ValueAtPercentile(99.9),
		v.ValueAtPercentile(99.99),
		v.MaxValue())
	return err
}

// Describe renders v on one line for diagnostics, with values divided by
// ratio. i is the caller's running interval index.
func Describe(v histogram.IntervalValue, i int, ratio float64) string {
	if ratio <= 0 {
		ratio = 1
	}
	var opsPerSec float64
	if lengthSec := float64(histogram.LengthMs(v)) / 1000.0; lengthSec > 0 {
		opsPerSec = float64(v.TotalCount()) / lengthSec
	}
	scaled := func(x int64) int64 { return int64(float64(x) / ratio) }
	return fmt.Sprintf("%s %5d: (%8.3f to %8.3f) [count=%d,min=%d,max=%d,avg=%.2f,50=%d,99=%d,999=%d,ops/s=%.1f]",
		histlog.DisplayTag(v.Tag()), i,
		float64(v.StartTimestampMs())/1000.0,
		float64(v.EndTimestampMs())/1000.0,
		v.TotalCount(),
		scaled(v.MinValue()),
		scaled(v.MaxValue()),
		v.Mean()/ratio,
		scaled(v.ValueAtPercentile(50)),
		scaled(v.ValueAtPercentile(99)),
		scaled(v.ValueAtPercentile(99.9)),
		opsPerSec)
}
