package net

// RPC hands one inbound Message to the node loop. Nothing is sent back over
// the wire: Done only tells the transport that the node has applied (or
// rejected) the message, so the connection can be released.
type RPC struct {
	Command *Message
	Done    chan<- error
}

// Respond reports the outcome of processing the message. It must be called
// exactly once per RPC.
func (r *RPC) Respond(err error) {
	r.Done <- err
}
