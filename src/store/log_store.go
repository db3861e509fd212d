package store

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	cm "github.com/mosaicnetworks/chirp/src/common"
	"github.com/mosaicnetworks/chirp/src/event"
)

const (
	// LogFileName is the name of the event log inside a node's directory.
	LogFileName = "log"

	maxLineSize = 1024 * 1024
)

var logFields = []string{"Type", "Node", "Sequence", "Time", "Payload"}

var (
	payloadEscaper   = strings.NewReplacer("\\", "\\\\", "\n", "\\n", "\r", "\\r")
	payloadUnescaper = strings.NewReplacer("\\\\", "\\", "\\n", "\n", "\\r", "\r")
)

// Replay is the state reconstructed from an event log.
type Replay struct {
	// Events in log order.
	Events []event.Event
	// LastSeq maps every origin to the highest sequence number logged for it.
	LastSeq map[string]int
	// SelfEvents counts the events generated by the owner of the log.
	SelfEvents int
}

// LogStore is the append-only history of the events delivered by a node. It
// lives in a single line-oriented file where every event takes five
// "Field:value" lines. Appends are flushed to disk before they return.
type LogStore struct {
	self     string
	dir      string
	path     string
	file     *os.File
	events   []event.Event
	byOrigin map[string][]event.Event
}

// NewLogStore opens the log of node self inside dir, creating the directory
// and the file if they do not exist.
func NewLogStore(dir string, self string) (*LogStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	path := filepath.Join(dir, LogFileName)

	_, statErr := os.Stat(path)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	if os.IsNotExist(statErr) {
		syncDir(dir)
	}

	return &LogStore{
		self:     self,
		dir:      dir,
		path:     path,
		file:     file,
		byOrigin: make(map[string][]event.Event),
	}, nil
}

// Replay reads the whole log and rebuilds the in-memory index. A record that
// cannot be parsed fails with a CorruptLog StoreErr.
func (s *LogStore) Replay() (*Replay, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	events, err := readLog(f)
	if err != nil {
		return nil, err
	}

	s.events = nil
	s.byOrigin = make(map[string][]event.Event)

	replay := &Replay{
		LastSeq: make(map[string]int),
	}

	for _, e := range events {
		if err := s.check(e); err != nil {
			return nil, cm.NewStoreErr("Log", cm.CorruptLog, fmt.Sprintf("%s: %v", e.ID(), err))
		}
		s.index(e)
		replay.LastSeq[e.Origin] = e.Seq
		if e.Origin == s.self {
			replay.SelfEvents++
		}
	}

	replay.Events = s.Events()

	return replay, nil
}

// Append durably adds an event to the log. Events of an origin must be
// appended in sequence order without gaps.
func (s *LogStore) Append(e event.Event) error {
	if err := s.check(e); err != nil {
		return err
	}

	var buf bytes.Buffer
	writeRecord(&buf, e)

	if _, err := s.file.Write(buf.Bytes()); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return err
	}

	s.index(e)

	return nil
}

func (s *LogStore) check(e event.Event) error {
	last := s.LastSeq(e.Origin)
	if e.Seq <= last {
		return cm.NewStoreErr("Log", cm.KeyAlreadyExists, e.ID().String())
	}
	if e.Seq != last+1 {
		return cm.NewStoreErr("Log", cm.SkippedIndex, e.ID().String())
	}
	return nil
}

func (s *LogStore) index(e event.Event) {
	s.events = append(s.events, e)
	s.byOrigin[e.Origin] = append(s.byOrigin[e.Origin], e)
}

// Events returns every logged event in log order.
func (s *LogStore) Events() []event.Event {
	res := make([]event.Event, len(s.events))
	copy(res, s.events)
	return res
}

// OriginEvents returns the events of origin with a sequence number greater
// than after.
func (s *LogStore) OriginEvents(origin string, after int) []event.Event {
	stream := s.byOrigin[origin]
	if after < 0 {
		after = 0
	}
	if after >= len(stream) {
		return []event.Event{}
	}
	res := make([]event.Event, len(stream)-after)
	copy(res, stream[after:])
	return res
}

// LastSeq returns the highest sequence number logged for origin.
func (s *LogStore) LastSeq(origin string) int {
	return len(s.byOrigin[origin])
}

// Len returns the number of logged events.
func (s *LogStore) Len() int {
	return len(s.events)
}

// Path returns the location of the log file.
func (s *LogStore) Path() string {
	return s.path
}

// Close closes the underlying file.
func (s *LogStore) Close() error {
	return s.file.Close()
}

func writeRecord(w io.Writer, e event.Event) {
	fmt.Fprintf(w, "Type:%s\n", e.Type)
	fmt.Fprintf(w, "Node:%s\n", e.Origin)
	fmt.Fprintf(w, "Sequence:%d\n", e.Seq)
	fmt.Fprintf(w, "Time:%s\n", e.Timestamp.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(w, "Payload:%s\n", payloadEscaper.Replace(e.Payload))
}

// readLog parses a log positionally: a record is exactly the five fields in
// order, and the next "Type" line starts a new record.
func readLog(r io.Reader) ([]event.Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	events := []event.Event{}
	fields := make([]string, 0, len(logFields))
	lineNo := 0
	recordLine := 0

	corrupt := func(line int, format string, args ...interface{}) error {
		return cm.NewStoreErr("Log", cm.CorruptLog,
			fmt.Sprintf("line %d: %s", line, fmt.Sprintf(format, args...)))
	}

	flush := func() error {
		if len(fields) != len(logFields) {
			return corrupt(recordLine, "incomplete record, %d of %d fields", len(fields), len(logFields))
		}
		e, err := parseRecord(fields)
		if err != nil {
			return corrupt(recordLine, "%v", err)
		}
		events = append(events, e)
		fields = fields[:0]
		return nil
	}

	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, corrupt(lineNo, "missing field separator")
		}
		key = strings.TrimSpace(key)

		if key == logFields[0] && len(fields) > 0 {
			if err := flush(); err != nil {
				return nil, err
			}
		}

		if len(fields) == len(logFields) {
			return nil, corrupt(lineNo, "unexpected field %q after Payload", key)
		}
		if key != logFields[len(fields)] {
			return nil, corrupt(lineNo, "expected field %q, got %q", logFields[len(fields)], key)
		}
		if len(fields) == 0 {
			recordLine = lineNo
		}

		fields = append(fields, value)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(fields) > 0 {
		if err := flush(); err != nil {
			return nil, err
		}
	}

	return events, nil
}

func parseRecord(fields []string) (event.Event, error) {
	typ, err := event.ParseType(strings.TrimSpace(fields[0]))
	if err != nil {
		return event.Event{}, err
	}

	origin := strings.TrimSpace(fields[1])
	if origin == "" {
		return event.Event{}, fmt.Errorf("empty node")
	}

	seq, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil || seq < 1 {
		return event.Event{}, fmt.Errorf("invalid sequence %q", fields[2])
	}

	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(fields[3]))
	if err != nil {
		return event.Event{}, fmt.Errorf("invalid time %q", fields[3])
	}

	return event.NewEvent(typ, origin, seq, ts, payloadUnescaper.Replace(fields[4])), nil
}

func syncDir(path string) {
	dir, err := os.Open(path)
	if err != nil {
		return
	}
	defer dir.Close()
	_ = dir.Sync()
}
