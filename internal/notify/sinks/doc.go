// Package sinks implements concrete change consumers such as structured
// logging and an outbound publisher bridge. Each sink satisfies the
// notify.Sink interface and is safe for repeated Consume/Close cycles.
package sinks
