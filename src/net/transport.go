package net

import "errors"

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")

	// ErrUnreachable is returned when a connection to the target cannot be
	// established.
	ErrUnreachable = errors.New("peer unreachable")
)

// Transport provides an interface for network transports
// to allow a node to communicate with other nodes.
type Transport interface {

	// Starts the transport listening
	Listen()

	// Consumer returns a channel that can be used to
	// consume and respond to inbound messages.
	Consumer() <-chan RPC

	// LocalAddr is used to return our local address
	LocalAddr() string

	// Probe checks that target accepts connections without sending anything.
	// It returns an error wrapping ErrUnreachable otherwise.
	Probe(target string) error

	// Send delivers one message to target. A failure to connect wraps
	// ErrUnreachable; any other error happened after the connection was
	// established.
	Send(target string, msg *Message) error

	// Close permanently closes a transport, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}
