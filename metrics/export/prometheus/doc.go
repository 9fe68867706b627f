// Package prometheus renders engine counters and the callback latency
// histogram in the Prometheus text exposition format.
//
// Mount [PrometheusExporter.Handler] on the scrape path. Counters are named
// threemagw_*_total; rejected callbacks, failed messages and refused
// verifications are single families split by a stage or reason label.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry.
//   - Mutate engine state.
package prometheus
