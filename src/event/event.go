package event

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/ugorji/go/codec"
)

// Type is the kind of an Event.
type Type int

const (
	// Tweet is a post visible to every follower that is not blocked.
	Tweet Type = iota
	// Block bars a node from seeing the origin's events.
	Block
	// Unblock lifts a Block.
	Unblock
)

// String returns the name used for a Type in the log and on the wire.
func (t Type) String() string {
	switch t {
	case Tweet:
		return "Tweet"
	case Block:
		return "Block"
	case Unblock:
		return "Unblock"
	default:
		return "Unknown"
	}
}

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, error) {
	switch s {
	case "Tweet":
		return Tweet, nil
	case "Block":
		return Block, nil
	case "Unblock":
		return Unblock, nil
	default:
		return Tweet, fmt.Errorf("unknown event type %q", s)
	}
}

// ID identifies an Event: the origin node and its position in the origin
// stream.
type ID struct {
	Origin string
	Seq    int
}

func (id ID) String() string {
	return fmt.Sprintf("%s#%d", id.Origin, id.Seq)
}

// Event is an immutable record of something a node did. Seq starts at 1 and
// increases by one with every event of the same origin.
type Event struct {
	Type      Type
	Origin    string
	Seq       int
	Timestamp time.Time
	Payload   string
}

// NewEvent creates an Event, normalizing the timestamp to UTC.
func NewEvent(t Type, origin string, seq int, timestamp time.Time, payload string) Event {
	return Event{
		Type:      t,
		Origin:    origin,
		Seq:       seq,
		Timestamp: timestamp.UTC(),
		Payload:   payload,
	}
}

// NewTweet creates a Tweet event.
func NewTweet(origin string, seq int, timestamp time.Time, message string) Event {
	return NewEvent(Tweet, origin, seq, timestamp, message)
}

// NewBlock creates a Block event from blocker against target.
func NewBlock(blocker string, seq int, timestamp time.Time, target string) Event {
	return NewEvent(Block, blocker, seq, timestamp, fmt.Sprintf("%s %s %s", blocker, blockedWord, target))
}

// NewUnblock creates an Unblock event from blocker in favour of target.
func NewUnblock(blocker string, seq int, timestamp time.Time, target string) Event {
	return NewEvent(Unblock, blocker, seq, timestamp, fmt.Sprintf("%s %s %s", blocker, unblockedWord, target))
}

const (
	blockedWord   = "blocked"
	unblockedWord = "unblocked"
)

// ID returns the identity of the event.
func (e Event) ID() ID {
	return ID{Origin: e.Origin, Seq: e.Seq}
}

// Target returns the name a Block or Unblock event is about. The payload of
// such events reads "<blocker> blocked <target>".
func (e Event) Target() (string, error) {
	var word string
	switch e.Type {
	case Block:
		word = blockedWord
	case Unblock:
		word = unblockedWord
	default:
		return "", fmt.Errorf("%s is a %s, not a Block or Unblock", e.ID(), e.Type)
	}

	fields := strings.Fields(e.Payload)
	if len(fields) != 3 || fields[0] != e.Origin || fields[1] != word {
		return "", fmt.Errorf("%s: malformed %s payload %q", e.ID(), e.Type, e.Payload)
	}

	return fields[2], nil
}

// String returns the human readable form used by the Log command.
func (e Event) String() string {
	return fmt.Sprintf("[%s] %s #%d by %s: %s",
		e.Timestamp.Format(time.RFC3339), e.Type, e.Seq, e.Origin, e.Payload)
}

// Marshal - json encoding of Event
func (e *Event) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(e); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal ...
func (e *Event) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(e)
}

// ByID sorts events by origin, then sequence.
type ByID []Event

func (a ByID) Len() int      { return len(a) }
func (a ByID) Swap(i, j int) { a[i], a[j] = a[j], a[i] }
func (a ByID) Less(i, j int) bool {
	if a[i].Origin != a[j].Origin {
		return a[i].Origin < a[j].Origin
	}
	return a[i].Seq < a[j].Seq
}
