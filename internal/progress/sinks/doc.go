// Package sinks implements concrete progress consumers: a terminal progress
// bar, Prometheus collectors, structured logging, and the Postgres run ledger.
// Each sink satisfies the progress.Sink interface and is safe for repeated
// Consume/Close cycles.
package sinks
