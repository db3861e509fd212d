package store

import (
	"github.com/mosaicnetworks/chirp/src/event"
)

// StateStore persists the parts of a node's state that the event log does
// not capture: the matrix clock snapshot, the pending-notify queues and the
// delivery buffer.
type StateStore interface {
	GetMatrix() ([]int, error)
	SetMatrix(flat []int) error
	GetPending(peer string) ([]event.Event, error)
	SetPending(peer string, events []event.Event) error
	BufferedEvents() ([]event.Event, error)
	AddBuffered(e event.Event) error
	RemoveBuffered(id event.ID) error
	Close() error
	StorePath() string
}
