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

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cardinalhq/oteltools/pkg/telemetry"
	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/host"
	iruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/hdrlog/internal/idgen"
	"github.com/cardinalhq/hdrlog/internal/logctx"
)

var (
	commonAttributes attribute.Set

	meter = otel.Meter("github.com/cardinalhq/hdrlog")

	runID string

	commandDuration metric.Float64Histogram
)

func init() {
	m, err := meter.Float64Histogram(
		"hdrlog.command.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Wall time of one hdrlog command"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create command.duration histogram: %w", err))
	}
	commandDuration = m
}

// debugEnabled reports whether debug logging was requested by flag or
// environment.
func debugEnabled() bool {
	return verbose || os.Getenv("DEBUG") != "" || os.Getenv("HDRLOG_DEBUG") != ""
}

// setupTelemetry installs the default logger and, when enabled through the
// environment, the OpenTelemetry SDK. Logs always go to stderr; stdout carries
// command output. The returned context is cancelled on SIGINT or SIGTERM and
// carries the logger.
func setupTelemetry(servicename string, addlAttrs *attribute.Set) (context.Context, func() error, error) {
	runID = idgen.NewRunID()

	// Catch signals to stop the process as gracefully as possible.
	doneCtx, doneCancel := handleSignals(context.Background())

	f := func() error {
		doneCancel()
		return nil
	}

	attrs := []attribute.KeyValue{
		attribute.String("runID", runID),
	}
	if addlAttrs != nil {
		iter := addlAttrs.Iter()
		for iter.Next() {
			attrs = append(attrs, iter.Attribute())
		}
	}
	commonAttributes = attribute.NewSet(attrs...)

	var opts *slog.HandlerOptions
	if debugEnabled() {
		opts = &slog.HandlerOptions{Level: slog.LevelDebug}
	}

	if os.Getenv("OTEL_SERVICE_NAME") != "" && os.Getenv("ENABLE_OTLP_TELEMETRY") == "true" {
		slog.SetDefault(slog.New(slogmulti.Fanout(
			slog.NewTextHandler(os.Stderr, opts),
			otelslog.NewHandler(servicename),
		)).With(
			slog.String("service", servicename),
			slog.String("runID", runID),
		))
		slog.Debug("OpenTelemetry exporting enabled")

		otelShutdown, err := telemetry.SetupOTelSDK(doneCtx)
		if err != nil {
			doneCancel()
			return doneCtx, nil, fmt.Errorf("failed to setup OpenTelemetry SDK: %w", err)
		}

		if err := iruntime.Start(iruntime.WithMinimumReadMemStatsInterval(time.Second * 10)); err != nil {
			slog.Warn("failed to start runtime metrics", "error", err.Error())
		}

		if err := host.Start(); err != nil {
			slog.Warn("failed to start host metrics", "error", err.Error())
		}

		f = func() error {
			defer doneCancel()
			slog.Debug("Shutting down OpenTelemetry SDK")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return otelShutdown(ctx)
		}
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)).With(
			slog.String("service", servicename),
			slog.String("runID", runID),
		))
	}

	return logctx.WithLogger(doneCtx, slog.Default()), f, nil
}

// runTelemetry wraps a command body with telemetry setup, shutdown and a
// duration measurement.
func runTelemetry(command string, body func(ctx context.Context) error) error {
	attrs := attribute.NewSet(attribute.String("command", command))
	ctx, doneFx, err := setupTelemetry("hdrlog-"+command, &attrs)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		if err := doneFx(); err != nil {
			slog.Error("Error shutting down telemetry", slog.Any("error", err))
		}
	}()

	start := time.Now()
	err = body(ctx)
	commandDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributeSet(commonAttributes))
	return err
}
