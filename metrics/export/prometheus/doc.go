// Package prometheus renders goGate metrics in Prometheus text exposition
// format. Counters are named gogate_*_total and the validate latency
// histogram is gogate_validate_latency_seconds. Nothing is registered
// globally; callers mount Handler where they want it.
package prometheus
