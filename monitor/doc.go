// Package monitor keeps rolling performance metrics for hash operations and
// raises threshold alerts.
//
// RecordOperation is lock-free and safe to call from every worker. Metrics
// are aggregated in fixed wall-clock windows; derived values (throughput,
// mean latency, error rate, cache hit rate) are computed on demand. Alert
// rules fire once per breach and clear only after the metric has stayed
// within bounds for a cooldown, which keeps flapping metrics quiet.
//
// Alerts are pushed to subscribers without ever blocking the monitor: a
// subscriber whose buffer is full misses the event and the drop is counted.
package monitor
