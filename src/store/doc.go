// Package store implements the persistence of a chirp node.
//
// LogStore is the event history: an append-only text file with one five-line
// record per delivered event, replayed at startup. StateStore keeps what the
// log cannot tell: the matrix clock snapshot, the pending-notify queues and
// the delivery buffer. InmemStore keeps it in memory; BadgerStore writes it
// through to a badger database.
package store
