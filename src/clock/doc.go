// Package clock implements the matrix clock used for causal delivery.
//
// A matrix clock generalizes a vector clock: row i holds what node i is known
// to have delivered from every node. The owner's row doubles as a vector clock
// and drives delivery (an event is deliverable when it is the next one from
// its origin); the other rows are second-hand knowledge, used to avoid sending
// a peer events it already has.
//
// Merging other rows can follow two policies. MergeFull takes the maximum of
// every row, trusting relayed knowledge; it converges faster when events hop
// through intermediate nodes. MergeSenderRow only accepts the sender's own
// row, so a node's view of X is only ever advanced by X's direct report or by
// someone reporting on itself.
package clock
