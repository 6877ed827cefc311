// Package alertsink forwards monitor alert events to Kafka.
//
// Each monitor.AlertEvent is written as one JSON message keyed by the
// metric name, so fired and cleared events for a metric land on the same
// partition in order.
package alertsink
