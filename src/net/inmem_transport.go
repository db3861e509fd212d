package net

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"
)

// NewInmemAddr returns a new in-memory addr with
// a randomly generate UUID as the ID.
func NewInmemAddr() string {
	return generateUUID()
}

// generateUUID is used to generate a random UUID.
func generateUUID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("failed to read random bytes: %v", err))
	}

	return fmt.Sprintf("%08x-%04x-%04x-%04x-%12x",
		buf[0:4],
		buf[4:6],
		buf[6:8],
		buf[8:10],
		buf[10:16])
}

// InmemTransport implements the Transport interface, to allow chirp nodes to
// be tested in-memory without going over a network. Messages still go
// through the wire codec.
type InmemTransport struct {
	sync.RWMutex
	consumerCh chan RPC
	localAddr  string
	peers      map[string]*InmemTransport
	closed     bool
	timeout    time.Duration
}

// NewInmemTransport is used to initialize a new transport
// and generates a random local address if none is specified
func NewInmemTransport(addr string) (string, *InmemTransport) {
	if addr == "" {
		addr = NewInmemAddr()
	}
	trans := &InmemTransport{
		consumerCh: make(chan RPC, 16),
		localAddr:  addr,
		peers:      make(map[string]*InmemTransport),
		timeout:    500 * time.Millisecond,
	}
	return addr, trans
}

// Consumer implements the Transport interface.
func (i *InmemTransport) Consumer() <-chan RPC {
	return i.consumerCh
}

// LocalAddr implements the Transport interface.
func (i *InmemTransport) LocalAddr() string {
	return i.localAddr
}

func (i *InmemTransport) route(target string) (*InmemTransport, error) {
	i.RLock()
	peer, ok := i.peers[target]
	i.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, target)
	}

	peer.RLock()
	closed := peer.closed
	peer.RUnlock()

	if closed {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, target)
	}

	return peer, nil
}

// Probe implements the Transport interface.
func (i *InmemTransport) Probe(target string) error {
	_, err := i.route(target)
	return err
}

// Send implements the Transport interface. The message is queued on the
// target's consumer channel; Send does not wait for it to be processed.
func (i *InmemTransport) Send(target string, msg *Message) error {
	peer, err := i.route(target)
	if err != nil {
		return err
	}

	copied, err := DecodeMessage(msg.Encode())
	if err != nil {
		return err
	}

	rpc := RPC{
		Command: copied,
		Done:    make(chan error, 1),
	}

	select {
	case peer.consumerCh <- rpc:
		return nil
	case <-time.After(i.timeout):
		return fmt.Errorf("sending to %s: command timed out", target)
	}
}

// Connect is used to connect this transport to another transport for
// a given peer name. This allows for local routing.
func (i *InmemTransport) Connect(peer string, t Transport) {
	trans := t.(*InmemTransport)
	i.Lock()
	defer i.Unlock()
	i.peers[peer] = trans
}

// Disconnect is used to remove the ability to route to a given peer.
func (i *InmemTransport) Disconnect(peer string) {
	i.Lock()
	defer i.Unlock()
	delete(i.peers, peer)
}

// DisconnectAll is used to remove all routes to peers.
func (i *InmemTransport) DisconnectAll() {
	i.Lock()
	defer i.Unlock()
	i.peers = make(map[string]*InmemTransport)
}

// Close is used to permanently disable the transport. Other transports can no
// longer reach it.
func (i *InmemTransport) Close() error {
	i.DisconnectAll()
	i.Lock()
	i.closed = true
	i.Unlock()
	return nil
}

// Listen is an empty function as there is no need to defer
// initialisation of the InMem service
func (i *InmemTransport) Listen() {
}
