package peers

// Directory combines the static PeerSet with the follow and block state of
// every node in it. The directory file has no follow column, so every node
// follows every other node.
type Directory struct {
	peers  *PeerSet
	states map[string]*NodeState
}

// NewDirectory creates a Directory where every peer follows all the others.
func NewDirectory(peerSet *PeerSet) *Directory {
	dir := &Directory{
		peers:  peerSet,
		states: make(map[string]*NodeState, peerSet.Len()),
	}

	for _, p := range peerSet.Peers {
		_, others := ExcludePeer(peerSet.Peers, p.Name)
		following := make([]string, 0, len(others))
		for _, o := range others {
			following = append(following, o.Name)
		}
		dir.states[p.Name] = NewNodeState(p, following)
	}

	return dir
}

// Peers returns the underlying PeerSet.
func (d *Directory) Peers() *PeerSet {
	return d.peers
}

// Has reports whether name is in the directory.
func (d *Directory) Has(name string) bool {
	_, ok := d.states[name]
	return ok
}

// State returns the NodeState of name.
func (d *Directory) State(name string) (*NodeState, bool) {
	s, ok := d.states[name]
	return s, ok
}

// Follows reports whether follower tracks followee.
func (d *Directory) Follows(follower, followee string) bool {
	s, ok := d.states[follower]
	return ok && s.Follows(followee)
}

// Blocks reports whether blocker has blocked target.
func (d *Directory) Blocks(blocker, target string) bool {
	s, ok := d.states[blocker]
	return ok && s.IsBlocked(target)
}
