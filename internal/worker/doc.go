// Package worker consumes jobs from the broker and runs each one in an
// ephemeral environment.
//
// A Pool starts a fixed number of worker goroutines per job kind. Every
// worker owns one subscription and handles exactly one job at a time: it
// marks the job running, runs the environment to completion or timeout,
// records the terminal status, delivers the graph callback and only then
// acknowledges the delivery.
//
// A "drain" file in the signals directory stops workers from taking new
// jobs while letting in-flight jobs finish.
package worker
