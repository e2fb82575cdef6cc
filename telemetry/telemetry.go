//
// Tencent is pleased to support the open source community by making trpc-xpert-go available.
//
// Copyright (C) 2026 Tencent.  All rights reserved.
//
// trpc-xpert-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry holds the shared OpenTelemetry handles of the runtime.
// Exporter wiring lives in the binary; library code only records against
// the handles declared here.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentName identifies this module on spans and instruments.
const InstrumentName = "trpc.group/trpc-go/trpc-xpert-go"

var (
	// Tracer is the tracer runtime spans are started on.
	Tracer trace.Tracer = otel.Tracer(InstrumentName)
	// Meter is the meter runtime instruments are created on.
	Meter metric.Meter = otel.Meter(InstrumentName)

	runsStarted  metric.Int64Counter
	runsFinished metric.Int64Counter
)

func init() {
	runsStarted, _ = Meter.Int64Counter("xpert.runs.started",
		metric.WithDescription("Number of runs started"))
	runsFinished, _ = Meter.Int64Counter("xpert.runs.finished",
		metric.WithDescription("Number of runs finished, by status"))
}

// StartSpan starts a runtime span with the conventional attribute set.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordRunStart counts one started run.
func RecordRunStart(ctx context.Context, xpertID string) {
	if runsStarted != nil {
		runsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("xpert.id", xpertID)))
	}
}

// RecordRunEnd counts one finished run with its terminal status.
func RecordRunEnd(ctx context.Context, xpertID, status string) {
	if runsFinished != nil {
		runsFinished.Add(ctx, 1, metric.WithAttributes(
			attribute.String("xpert.id", xpertID),
			attribute.String("run.status", status),
		))
	}
}
