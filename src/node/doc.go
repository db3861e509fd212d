// Package node implements the reactive part of a chirp node.
//
// Core is the causal delivery engine. It owns the matrix clock, the event
// log and the state store. A received event is buffered until every earlier
// event of the same origin has been delivered locally; delivering it applies
// its side effect (a tweet joins the feed, a Block or Unblock changes the
// blocked set of its origin), appends it to the log, advances the clock, and
// queues it for every peer that follows the origin and is not blocked by it.
//
// Dispatcher sends these pending-notify queues. It runs after every local
// event, visits the peers in directory order, skips the ones that cannot be
// reached, and sends each reachable peer one message with its queue and the
// full clock. The clock lets the receiver know what every node has seen, so
// events a peer already holds are never queued for it again.
//
// Node runs the single loop that drives both. It alternates between the
// console and the network, waiting up to a poll timeout for each, so that a
// node typing commands still relays the messages of others.
package node
