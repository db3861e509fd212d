// Package net implements the transports chirp nodes use to exchange
// messages.
//
// A Message carries the sender's name, its matrix clock and a batch of
// events, encoded as a single text frame:
//
//	sender&c00,c01,...,cNN&event;event;...
//
// where each event is "type|origin|seq|timestamp|payload", timestamps are
// RFC 3339 in UTC, and origins and payloads are query-escaped so that none of
// the delimiters can appear raw.
//
// There are two implementations of the Transport interface:
//
//   - Inmem: in-memory transport used only for testing
//
//   - TCP: one connection per message over plain TCP. The sender closes its
//     side of the connection after writing and the receiver reads until EOF.
//     An empty connection is a reachability probe.
//
// Inbound messages are consumed from the Consumer channel by the node loop,
// which must call Respond on every RPC it receives.
package net
