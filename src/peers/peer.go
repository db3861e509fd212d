package peers

import (
	"fmt"
	"strings"
)

// reservedChars cannot appear in a node name because they delimit fields in
// the wire format, the directory file, or the block payloads.
const reservedChars = "&;|,: \t\r\n\""

// Peer is an entry of the node directory.
type Peer struct {
	// ID is the position of the peer in the directory. It is also the peer's
	// row and column in the matrix clock.
	ID      int    `json:"id"`
	Name    string `json:"name"`
	NetAddr string `json:"net_addr"`
}

// NewPeer creates a Peer. The ID is assigned when the peer is added to a
// PeerSet.
func NewPeer(name, netAddr string) *Peer {
	return &Peer{
		Name:    name,
		NetAddr: netAddr,
	}
}

func (p *Peer) String() string {
	return fmt.Sprintf("%s(%d)@%s", p.Name, p.ID, p.NetAddr)
}

// ValidateName checks that a name can safely travel in the wire format and in
// the persisted log.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty node name")
	}
	if strings.ContainsAny(name, reservedChars) {
		return fmt.Errorf("node name %q contains one of the reserved characters %q", name, reservedChars)
	}
	return nil
}

// ExcludePeer is used to exclude a single peer from a list of peers.
func ExcludePeer(peers []*Peer, name string) (int, []*Peer) {
	index := -1
	otherPeers := make([]*Peer, 0, len(peers))
	for i, p := range peers {
		if p.Name != name {
			otherPeers = append(otherPeers, p)
		} else {
			index = i
		}
	}
	return index, otherPeers
}
