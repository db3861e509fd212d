// Package service implements a read-only HTTP API exposing the state of a
// chirp node: stats, matrix clock, log, feed and peers.
//
// Handlers only read the Snapshot the node loop publishes after each step,
// so they never contend with event delivery.
package service
