package node

import "errors"

var (
	// ErrInvalidTarget is returned when a Block or Unblock names a node that
	// cannot be blocked or unblocked.
	ErrInvalidTarget = errors.New("invalid target")

	// ErrSendFailed is returned when a message could not be written to a peer
	// after a connection was established. It stops the node.
	ErrSendFailed = errors.New("send failed")

	// ErrUnknownSender is returned when an inbound message comes from a name
	// that is not in the directory.
	ErrUnknownSender = errors.New("unknown sender")

	// ErrInvalidMessage is returned when an inbound message carries a clock
	// that does not fit the directory.
	ErrInvalidMessage = errors.New("invalid message")
)
