package net

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mosaicnetworks/chirp/src/event"
)

const (
	sectionSep = "&"
	matrixSep  = ","
	eventSep   = ";"
	fieldSep   = "|"
)

// ErrMalformedMessage is returned when an inbound frame cannot be decoded.
var ErrMalformedMessage = errors.New("malformed message")

// Message is the only command exchanged between nodes. It carries the
// sender's name, its full matrix clock flattened in directory order, and the
// events the sender wants the receiver to deliver.
type Message struct {
	From   string
	Matrix []int
	Events []event.Event
}

// NewMessage ...
func NewMessage(from string, matrix []int, events []event.Event) *Message {
	return &Message{
		From:   from,
		Matrix: matrix,
		Events: events,
	}
}

// Encode serializes the message as "sender&matrix&events". Origins and
// payloads are query-escaped so the delimiters never appear raw.
func (m *Message) Encode() []byte {
	var b strings.Builder

	b.WriteString(url.QueryEscape(m.From))
	b.WriteString(sectionSep)

	for i, v := range m.Matrix {
		if i > 0 {
			b.WriteString(matrixSep)
		}
		b.WriteString(strconv.Itoa(v))
	}
	b.WriteString(sectionSep)

	for i, e := range m.Events {
		if i > 0 {
			b.WriteString(eventSep)
		}
		b.WriteString(e.Type.String())
		b.WriteString(fieldSep)
		b.WriteString(url.QueryEscape(e.Origin))
		b.WriteString(fieldSep)
		b.WriteString(strconv.Itoa(e.Seq))
		b.WriteString(fieldSep)
		b.WriteString(e.Timestamp.UTC().Format(time.RFC3339Nano))
		b.WriteString(fieldSep)
		b.WriteString(url.QueryEscape(e.Payload))
	}

	return []byte(b.String())
}

// DecodeMessage parses a frame produced by Encode. Every error wraps
// ErrMalformedMessage.
func DecodeMessage(data []byte) (*Message, error) {
	sections := strings.Split(string(data), sectionSep)
	if len(sections) != 3 {
		return nil, malformed("expected 3 sections, got %d", len(sections))
	}

	from, err := url.QueryUnescape(sections[0])
	if err != nil || from == "" {
		return nil, malformed("invalid sender %q", sections[0])
	}

	msg := &Message{
		From:   from,
		Matrix: []int{},
		Events: []event.Event{},
	}

	if sections[1] != "" {
		for _, cell := range strings.Split(sections[1], matrixSep) {
			v, err := strconv.Atoi(cell)
			if err != nil || v < 0 {
				return nil, malformed("invalid matrix cell %q", cell)
			}
			msg.Matrix = append(msg.Matrix, v)
		}
	}

	if sections[2] != "" {
		for _, raw := range strings.Split(sections[2], eventSep) {
			e, err := decodeEvent(raw)
			if err != nil {
				return nil, err
			}
			msg.Events = append(msg.Events, e)
		}
	}

	return msg, nil
}

func decodeEvent(raw string) (event.Event, error) {
	fields := strings.Split(raw, fieldSep)
	if len(fields) != 5 {
		return event.Event{}, malformed("expected 5 event fields, got %d", len(fields))
	}

	typ, err := event.ParseType(fields[0])
	if err != nil {
		return event.Event{}, malformed("%v", err)
	}

	origin, err := url.QueryUnescape(fields[1])
	if err != nil || origin == "" {
		return event.Event{}, malformed("invalid origin %q", fields[1])
	}

	seq, err := strconv.Atoi(fields[2])
	if err != nil || seq < 1 {
		return event.Event{}, malformed("invalid sequence %q", fields[2])
	}

	ts, err := time.Parse(time.RFC3339Nano, fields[3])
	if err != nil {
		return event.Event{}, malformed("invalid timestamp %q", fields[3])
	}

	payload, err := url.QueryUnescape(fields[4])
	if err != nil {
		return event.Event{}, malformed("invalid payload: %v", err)
	}

	return event.NewEvent(typ, origin, seq, ts, payload), nil
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, fmt.Sprintf(format, args...))
}
