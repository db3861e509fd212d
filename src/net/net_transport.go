package net

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMaxFrame bounds the size of an inbound message.
const DefaultMaxFrame = 16 * 1024 * 1024

// StreamLayer is used with the NetworkTransport to provide the low level
// stream abstraction.
type StreamLayer interface {
	net.Listener

	// Dial is used to create a new outgoing connection
	Dial(address string, timeout time.Duration) (net.Conn, error)

	// AdvertiseAddr returns the publicly-reachable address of the stream
	AdvertiseAddr() string
}

// halfCloser is implemented by connections that can signal the end of the
// outbound stream while staying open for reading, like *net.TCPConn.
type halfCloser interface {
	CloseWrite() error
}

/*
NetworkTransport provides a network based transport that can be used to
communicate with chirp nodes on remote machines. It requires an underlying
stream layer to provide a stream abstraction.

Every Message travels on its own connection: the sender writes the encoded
frame and closes its side, the receiver reads until EOF. A connection that is
closed without any data is a reachability probe and is ignored.
*/
type NetworkTransport struct {
	logger *logrus.Entry

	consumeCh chan RPC

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	stream StreamLayer

	timeout  time.Duration
	maxFrame int
}

// NewNetworkTransport creates a new network transport with the given stream
// layer. The timeout is used to apply dial and I/O deadlines, and maxFrame
// bounds the size of inbound messages.
func NewNetworkTransport(
	stream StreamLayer,
	timeout time.Duration,
	maxFrame int,
	logger *logrus.Entry,
) *NetworkTransport {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}

	trans := &NetworkTransport{
		consumeCh:  make(chan RPC),
		logger:     logger,
		shutdownCh: make(chan struct{}),
		stream:     stream,
		timeout:    timeout,
		maxFrame:   maxFrame,
	}

	return trans
}

// Close is used to stop the network transport.
func (n *NetworkTransport) Close() error {
	n.shutdownLock.Lock()
	defer n.shutdownLock.Unlock()

	if !n.shutdown {
		close(n.shutdownCh)
		n.stream.Close()

		n.shutdown = true
	}
	return nil
}

// Consumer implements the Transport interface.
func (n *NetworkTransport) Consumer() <-chan RPC {
	return n.consumeCh
}

// LocalAddr implements the Transport interface.
func (n *NetworkTransport) LocalAddr() string {
	return n.stream.AdvertiseAddr()
}

// IsShutdown is used to check if the transport is shutdown.
func (n *NetworkTransport) IsShutdown() bool {
	select {
	case <-n.shutdownCh:
		return true
	default:
		return false
	}
}

func (n *NetworkTransport) dial(target string) (net.Conn, error) {
	if n.IsShutdown() {
		return nil, ErrTransportShutdown
	}

	conn, err := n.stream.Dial(target, n.timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, target, err)
	}

	return conn, nil
}

// Probe implements the Transport interface.
func (n *NetworkTransport) Probe(target string) error {
	conn, err := n.dial(target)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Send implements the Transport interface.
func (n *NetworkTransport) Send(target string, msg *Message) error {
	conn, err := n.dial(target)
	if err != nil {
		return err
	}
	defer conn.Close()

	if n.timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(n.timeout))
	}

	if _, err := conn.Write(msg.Encode()); err != nil {
		return fmt.Errorf("writing to %s: %w", target, err)
	}

	if hc, ok := conn.(halfCloser); ok {
		if err := hc.CloseWrite(); err != nil {
			return fmt.Errorf("closing stream to %s: %w", target, err)
		}
	}

	return nil
}

// Listen opens the stream and handles incoming connections.
func (n *NetworkTransport) Listen() {
	for {
		// Accept incoming connections
		conn, err := n.stream.Accept()
		if err != nil {
			if n.IsShutdown() {
				return
			}
			n.logger.WithField("error", err).Error("Failed to accept connection")
			continue
		}
		n.logger.WithFields(logrus.Fields{
			"node": conn.LocalAddr(),
			"from": conn.RemoteAddr(),
		}).Debug("accepted connection")

		// Handle the connection in dedicated routine
		go n.handleConn(conn)
	}
}

// handleConn reads a single message from an inbound connection and hands it
// to the consumer. Frames that cannot be read or decoded are dropped.
func (n *NetworkTransport) handleConn(conn net.Conn) {
	defer conn.Close()

	data, err := n.readFrame(conn)
	if err != nil {
		n.logger.WithError(err).WithField("from", conn.RemoteAddr()).Warn("Failed to read incoming message")
		return
	}

	if len(data) == 0 {
		return
	}

	msg, err := DecodeMessage(data)
	if err != nil {
		n.logger.WithError(err).WithField("from", conn.RemoteAddr()).Warn("Failed to decode incoming message")
		return
	}

	if err := n.dispatch(msg); err != nil {
		if err == ErrTransportShutdown {
			n.logger.WithField("error", err).Debug("Dropped incoming message")
		} else {
			n.logger.WithField("error", err).Error("Failed to process incoming message")
		}
	}
}

func (n *NetworkTransport) readFrame(conn net.Conn) ([]byte, error) {
	if n.timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(n.timeout))
	}

	var buf bytes.Buffer
	read, err := io.Copy(&buf, io.LimitReader(conn, int64(n.maxFrame)+1))
	if err != nil {
		return nil, err
	}

	if read > int64(n.maxFrame) {
		return nil, fmt.Errorf("message exceeds %d bytes", n.maxFrame)
	}

	return buf.Bytes(), nil
}

// dispatch passes the message to the consumer and waits until it has been
// processed.
func (n *NetworkTransport) dispatch(msg *Message) error {
	done := make(chan error, 1)
	rpc := RPC{
		Command: msg,
		Done:    done,
	}

	select {
	case n.consumeCh <- rpc:
	case <-n.shutdownCh:
		return ErrTransportShutdown
	}

	select {
	case err := <-done:
		return err
	case <-n.shutdownCh:
		return ErrTransportShutdown
	}
}
