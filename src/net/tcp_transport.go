package net

import (
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	errNotAdvertisable = errors.New("local bind address is not advertisable")
	errNotTCP          = errors.New("local address is not a TCP address")
)

// TCPStreamLayer is the StreamLayer of nodes reached on plain TCP addresses
// from the directory. Accept, Close and Addr come from the listener.
type TCPStreamLayer struct {
	*net.TCPListener
	advertise string
}

// Dial opens one connection, used for a single probe or message.
func (t *TCPStreamLayer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", address, timeout)
}

// AdvertiseAddr is the address other nodes dial to reach this one.
func (t *TCPStreamLayer) AdvertiseAddr() string {
	return t.advertise
}

// NewTCPTransport binds bindAddr and returns a NetworkTransport on top of it.
// advertise is the address other nodes use to reach this one; it defaults to
// the bound address, which must then not be unspecified.
func NewTCPTransport(
	bindAddr string,
	advertise string,
	timeout time.Duration,
	maxFrame int,
	logger *logrus.Entry,
) (*NetworkTransport, error) {

	list, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}

	addr, err := advertisable(list.Addr(), advertise)
	if err != nil {
		list.Close()
		return nil, err
	}

	stream := &TCPStreamLayer{
		TCPListener: list.(*net.TCPListener),
		advertise:   addr,
	}

	return NewNetworkTransport(stream, timeout, maxFrame, logger), nil
}

// advertisable picks the address to advertise: advertise when given, the
// bound address otherwise. It must resolve to a specific TCP address.
func advertisable(bound net.Addr, advertise string) (string, error) {
	if advertise == "" {
		tcpAddr, ok := bound.(*net.TCPAddr)
		if !ok {
			return "", errNotTCP
		}
		if tcpAddr.IP.IsUnspecified() {
			return "", errNotAdvertisable
		}
		return bound.String(), nil
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", advertise)
	if err != nil {
		return "", err
	}
	if tcpAddr.IP.IsUnspecified() {
		return "", errNotAdvertisable
	}
	return advertise, nil
}
