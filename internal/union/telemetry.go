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

package union

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	meter = otel.Meter("github.com/cardinalhq/hdrlog/internal/union")

	windowsCounter   metric.Int64Counter
	rolloverCounter  metric.Int64Counter
	intervalsCounter metric.Int64Counter
)

func init() {
	var err error

	windowsCounter, err = meter.Int64Counter(
		"hdrlog.union.windows",
		metric.WithDescription("Union windows emitted to the sink"),
	)
	if err != nil {
		panic(err)
	}

	rolloverCounter, err = meter.Int64Counter(
		"hdrlog.union.rollovers",
		metric.WithDescription("Windows closed because a candidate did not fit"),
	)
	if err != nil {
		panic(err)
	}

	intervalsCounter, err = meter.Int64Counter(
		"hdrlog.union.intervals",
		metric.WithDescription("Input intervals consumed by the union engine"),
	)
	if err != nil {
		panic(err)
	}
}
