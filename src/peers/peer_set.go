package peers

import "fmt"

// PeerSet is the ordered list of every node known to the simulation. The order
// is the order of the directory file and never changes for the lifetime of a
// process.
type PeerSet struct {
	Peers  []*Peer          `json:"peers"`
	ByName map[string]*Peer `json:"-"`
}

// NewPeerSet creates a new PeerSet from a list of Peers. Peer IDs are set to
// their position in the list.
func NewPeerSet(peers []*Peer) *PeerSet {
	peerSet := &PeerSet{
		ByName: make(map[string]*Peer),
	}

	for i, peer := range peers {
		peer.ID = i
		peerSet.ByName[peer.Name] = peer
	}

	peerSet.Peers = peers

	return peerSet
}

// NewPeerSetFromNames is a convenience constructor for peers that share a
// host and take consecutive ports.
func NewPeerSetFromNames(host string, firstPort int, names ...string) *PeerSet {
	pirs := make([]*Peer, 0, len(names))
	for i, name := range names {
		pirs = append(pirs, NewPeer(name, fmt.Sprintf("%s:%d", host, firstPort+i)))
	}
	return NewPeerSet(pirs)
}

// Len returns the number of peers in the set.
func (peerSet *PeerSet) Len() int {
	return len(peerSet.Peers)
}

// Names returns the peer names in directory order.
func (peerSet *PeerSet) Names() []string {
	names := make([]string, 0, len(peerSet.Peers))
	for _, p := range peerSet.Peers {
		names = append(names, p.Name)
	}
	return names
}

// IDOf returns the directory index of a name.
func (peerSet *PeerSet) IDOf(name string) (int, bool) {
	p, ok := peerSet.ByName[name]
	if !ok {
		return -1, false
	}
	return p.ID, true
}

// ByID returns the peer at a directory index, or nil.
func (peerSet *PeerSet) ByID(id int) *Peer {
	if id < 0 || id >= len(peerSet.Peers) {
		return nil
	}
	return peerSet.Peers[id]
}
