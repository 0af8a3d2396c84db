// Package otel publishes goGate engine metrics through an OpenTelemetry
// meter.
//
// [NewOTelExporter] registers an Int64ObservableCounter per engine counter
// and an Int64ObservableGauge per validation-latency bucket. One callback
// reads [goGate.Engine.MetricsSnapshot] on each collection cycle, so the
// engine stays free of OpenTelemetry types.
//
// The caller owns the MeterProvider.
package otel
