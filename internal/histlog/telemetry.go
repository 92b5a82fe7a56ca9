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

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	linesCounter        otelmetric.Int64Counter
	parseErrorsCounter  otelmetric.Int64Counter
	recordsCounter      otelmetric.Int64Counter
	decodeErrorsCounter otelmetric.Int64Counter
	linesWrittenCounter otelmetric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/hdrlog/internal/histlog")

	var err error
	linesCounter, err = meter.Int64Counter(
		"hdrlog.scanner.lines",
		otelmetric.WithDescription("Number of lines read by histogram log scanners"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create scanner.lines counter: %w", err))
	}

	parseErrorsCounter, err = meter.Int64Counter(
		"hdrlog.scanner.parse_errors",
		otelmetric.WithDescription("Number of histogram log lines skipped because they could not be parsed"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create scanner.parse_errors counter: %w", err))
	}

	recordsCounter, err = meter.Int64Counter(
		"hdrlog.reader.records",
		otelmetric.WithDescription("Number of histogram records seen by ordered readers, by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create reader.records counter: %w", err))
	}

	decodeErrorsCounter, err = meter.Int64Counter(
		"hdrlog.reader.decode_errors",
		otelmetric.WithDescription("Number of histogram payloads that failed to decode"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create reader.decode_errors counter: %w", err))
	}

	linesWrittenCounter, err = meter.Int64Counter(
		"hdrlog.writer.intervals",
		otelmetric.WithDescription("Number of interval lines written to histogram logs"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create writer.intervals counter: %w", err))
	}
}
