// Package sinks implements concrete progress consumers such as Prometheus,
// the run history repository, the in-memory status tracker behind the API,
// completion notifications, and structured logging. Each sink satisfies the
// progress.Sink interface and is safe for repeated Consume/Close cycles.
package sinks
