package store

import (
	"sort"

	cm "github.com/mosaicnetworks/chirp/src/common"
	"github.com/mosaicnetworks/chirp/src/event"
)

// InmemStore implements the StateStore interface with maps. Its content is
// lost when the process stops.
type InmemStore struct {
	matrix   []int
	pending  map[string][]event.Event
	buffered map[event.ID]event.Event
}

// NewInmemStore creates an empty InmemStore.
func NewInmemStore() *InmemStore {
	return &InmemStore{
		pending:  make(map[string][]event.Event),
		buffered: make(map[event.ID]event.Event),
	}
}

// GetMatrix implements the StateStore interface. It returns a KeyNotFound
// error when no snapshot was ever saved.
func (s *InmemStore) GetMatrix() ([]int, error) {
	if s.matrix == nil {
		return nil, cm.NewStoreErr("Matrix", cm.KeyNotFound, "matrix")
	}
	res := make([]int, len(s.matrix))
	copy(res, s.matrix)
	return res, nil
}

// SetMatrix implements the StateStore interface.
func (s *InmemStore) SetMatrix(flat []int) error {
	s.matrix = make([]int, len(flat))
	copy(s.matrix, flat)
	return nil
}

// GetPending implements the StateStore interface. A peer without a queue has
// an empty one.
func (s *InmemStore) GetPending(peer string) ([]event.Event, error) {
	queue := s.pending[peer]
	res := make([]event.Event, len(queue))
	copy(res, queue)
	return res, nil
}

// SetPending implements the StateStore interface.
func (s *InmemStore) SetPending(peer string, events []event.Event) error {
	if len(events) == 0 {
		delete(s.pending, peer)
		return nil
	}
	queue := make([]event.Event, len(events))
	copy(queue, events)
	s.pending[peer] = queue
	return nil
}

// BufferedEvents implements the StateStore interface. Events are sorted by
// origin and sequence number.
func (s *InmemStore) BufferedEvents() ([]event.Event, error) {
	res := make([]event.Event, 0, len(s.buffered))
	for _, e := range s.buffered {
		res = append(res, e)
	}
	sort.Sort(event.ByID(res))
	return res, nil
}

// AddBuffered implements the StateStore interface.
func (s *InmemStore) AddBuffered(e event.Event) error {
	if _, ok := s.buffered[e.ID()]; ok {
		return cm.NewStoreErr("Buffer", cm.KeyAlreadyExists, e.ID().String())
	}
	s.buffered[e.ID()] = e
	return nil
}

// RemoveBuffered implements the StateStore interface.
func (s *InmemStore) RemoveBuffered(id event.ID) error {
	if _, ok := s.buffered[id]; !ok {
		return cm.NewStoreErr("Buffer", cm.KeyNotFound, id.String())
	}
	delete(s.buffered, id)
	return nil
}

// Close implements the StateStore interface.
func (s *InmemStore) Close() error {
	return nil
}

// StorePath implements the StateStore interface.
func (s *InmemStore) StorePath() string {
	return ""
}
