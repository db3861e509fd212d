package peers

import "sort"

// NodeState is what the local node knows about the follow and block
// relationships of one directory entry.
type NodeState struct {
	Name    string
	Address string

	// Following holds the names this node tracks. Events whose origin is not
	// followed are neither displayed nor forwarded to this node.
	Following map[string]bool

	// Blocked holds the names this node has blocked. A blocked name must not
	// see this node's events.
	Blocked map[string]bool
}

// NewNodeState creates the state of a peer that follows the given names.
func NewNodeState(peer *Peer, following []string) *NodeState {
	state := &NodeState{
		Name:      peer.Name,
		Address:   peer.NetAddr,
		Following: make(map[string]bool, len(following)),
		Blocked:   make(map[string]bool),
	}
	for _, f := range following {
		state.Following[f] = true
	}
	return state
}

// Follows reports whether this node tracks name.
func (s *NodeState) Follows(name string) bool {
	return s.Following[name]
}

// IsBlocked reports whether this node has blocked name.
func (s *NodeState) IsBlocked(name string) bool {
	return s.Blocked[name]
}

// Block adds name to the blocked set. It returns false if name was already
// blocked.
func (s *NodeState) Block(name string) bool {
	if s.Blocked[name] {
		return false
	}
	s.Blocked[name] = true
	return true
}

// Unblock removes name from the blocked set. It returns false if name was not
// blocked.
func (s *NodeState) Unblock(name string) bool {
	if !s.Blocked[name] {
		return false
	}
	delete(s.Blocked, name)
	return true
}

// BlockedNames returns the blocked set in lexical order.
func (s *NodeState) BlockedNames() []string {
	res := make([]string, 0, len(s.Blocked))
	for n := range s.Blocked {
		res = append(res, n)
	}
	sort.Strings(res)
	return res
}
