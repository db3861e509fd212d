package store

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	cm "github.com/mosaicnetworks/chirp/src/common"
	"github.com/mosaicnetworks/chirp/src/event"
)

func sameEvents(a, b []event.Event) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type != b[i].Type ||
			a[i].Origin != b[i].Origin ||
			a[i].Seq != b[i].Seq ||
			!a[i].Timestamp.Equal(b[i].Timestamp) ||
			a[i].Payload != b[i].Payload {
			return false
		}
	}
	return true
}

func testEvents() []event.Event {
	now := time.Now()
	return []event.Event{
		event.NewTweet("alice", 1, now, "hello"),
		event.NewTweet("bob", 1, now.Add(time.Second), "multi\nline \\ payload\r"),
		event.NewBlock("alice", 2, now.Add(2*time.Second), "bob"),
		event.NewTweet("alice", 3, now.Add(3*time.Second), "Type:Tweet"),
		event.NewUnblock("alice", 4, now.Add(4*time.Second), "bob"),
	}
}

func TestLogAppendReplay(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "alice")

	store, err := NewLogStore(dir, "alice")
	if err != nil {
		t.Fatal(err)
	}

	events := testEvents()
	for _, e := range events {
		if err := store.Append(e); err != nil {
			t.Fatal(err)
		}
	}

	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewLogStore(dir, "alice")
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	replay, err := reopened.Replay()
	if err != nil {
		t.Fatal(err)
	}

	if !sameEvents(events, replay.Events) {
		t.Fatalf("replayed events should be %v, not %v", events, replay.Events)
	}

	expectedLast := map[string]int{"alice": 4, "bob": 1}
	if !reflect.DeepEqual(expectedLast, replay.LastSeq) {
		t.Fatalf("LastSeq should be %v, not %v", expectedLast, replay.LastSeq)
	}

	if replay.SelfEvents != 4 {
		t.Fatalf("SelfEvents should be 4, not %d", replay.SelfEvents)
	}

	if reopened.LastSeq("alice") != 4 || reopened.Len() != 5 {
		t.Fatalf("index not rebuilt: last %d, len %d", reopened.LastSeq("alice"), reopened.Len())
	}

	// appends continue where the log left off
	if err := reopened.Append(event.NewTweet("alice", 5, time.Now(), "again")); err != nil {
		t.Fatal(err)
	}
}

func TestLogMissingFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "bob")

	store, err := NewLogStore(dir, "bob")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	replay, err := store.Replay()
	if err != nil {
		t.Fatal(err)
	}

	if len(replay.Events) != 0 || replay.SelfEvents != 0 {
		t.Fatalf("replay of a new log should be empty, got %+v", replay)
	}

	if _, err := os.Stat(store.Path()); err != nil {
		t.Fatalf("log file should have been created: %v", err)
	}
}

func TestLogAppendErrors(t *testing.T) {
	store, err := NewLogStore(t.TempDir(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	now := time.Now()

	if err := store.Append(event.NewTweet("alice", 1, now, "one")); err != nil {
		t.Fatal(err)
	}

	err = store.Append(event.NewTweet("alice", 1, now, "one again"))
	if !cm.IsStore(err, cm.KeyAlreadyExists) {
		t.Fatalf("duplicate should fail with KeyAlreadyExists, got %v", err)
	}

	err = store.Append(event.NewTweet("alice", 3, now, "three"))
	if !cm.IsStore(err, cm.SkippedIndex) {
		t.Fatalf("gap should fail with SkippedIndex, got %v", err)
	}

	err = store.Append(event.NewTweet("carol", 2, now, "two"))
	if !cm.IsStore(err, cm.SkippedIndex) {
		t.Fatalf("gap should fail with SkippedIndex, got %v", err)
	}

	if store.Len() != 1 {
		t.Fatalf("failed appends should not be indexed, len %d", store.Len())
	}
}

func TestOriginEvents(t *testing.T) {
	store, err := NewLogStore(t.TempDir(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	for _, e := range testEvents() {
		if err := store.Append(e); err != nil {
			t.Fatal(err)
		}
	}

	after := store.OriginEvents("alice", 2)
	if len(after) != 2 || after[0].Seq != 3 || after[1].Seq != 4 {
		t.Fatalf("unexpected events after alice#2: %v", after)
	}

	if all := store.OriginEvents("alice", 0); len(all) != 4 {
		t.Fatalf("expected 4 alice events, got %d", len(all))
	}

	if none := store.OriginEvents("alice", 4); len(none) != 0 {
		t.Fatalf("expected no events after alice#4, got %v", none)
	}

	if unknown := store.OriginEvents("dave", 0); len(unknown) != 0 {
		t.Fatalf("expected no dave events, got %v", unknown)
	}
}

func TestReadLogBlankLines(t *testing.T) {
	content := "\n" +
		"Type:Tweet\r\n" +
		"Node:alice\n" +
		"Sequence:1\n" +
		"Time:2019-06-01T10:00:00Z\n" +
		"Payload:first: with colon\n" +
		"\n\n" +
		"Type:Block\n" +
		"Node:alice\n" +
		"Sequence:2\n" +
		"Time:2019-06-01T10:00:01.5Z\n" +
		"Payload:alice blocked bob\n"

	events, err := readLog(strings.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	if events[0].Payload != "first: with colon" {
		t.Fatalf("unexpected payload %q", events[0].Payload)
	}

	if events[1].Type != event.Block || events[1].Timestamp.Nanosecond() != 500000000 {
		t.Fatalf("unexpected second event %v", events[1])
	}
}

func TestReplayCorruptLog(t *testing.T) {
	cases := []struct {
		name    string
		content string
		line    string
	}{
		{
			name:    "bad sequence",
			content: "Type:Tweet\nNode:alice\nSequence:one\nTime:2019-06-01T10:00:00Z\nPayload:hi\n",
			line:    "line 1",
		},
		{
			name:    "unknown type",
			content: "Type:Tweet\nNode:alice\nSequence:1\nTime:2019-06-01T10:00:00Z\nPayload:hi\nType:Retweet\nNode:alice\nSequence:2\nTime:2019-06-01T10:00:00Z\nPayload:hi\n",
			line:    "line 6",
		},
		{
			name:    "missing field",
			content: "Type:Tweet\nNode:alice\nTime:2019-06-01T10:00:00Z\nPayload:hi\n",
			line:    "line 3",
		},
		{
			name:    "no separator",
			content: "Type:Tweet\nNode alice\n",
			line:    "line 2",
		},
		{
			name:    "truncated record",
			content: "Type:Tweet\nNode:alice\nSequence:1\n",
			line:    "line 1",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := ioutil.WriteFile(filepath.Join(dir, LogFileName), []byte(c.content), 0600); err != nil {
				t.Fatal(err)
			}

			store, err := NewLogStore(dir, "alice")
			if err != nil {
				t.Fatal(err)
			}
			defer store.Close()

			_, err = store.Replay()
			if !cm.IsStore(err, cm.CorruptLog) {
				t.Fatalf("expected CorruptLog, got %v", err)
			}
			if !strings.Contains(err.Error(), c.line) {
				t.Fatalf("error %q should mention %q", err, c.line)
			}
		})
	}
}

func TestReplayDuplicateIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	record := "Type:Tweet\nNode:alice\nSequence:1\nTime:2019-06-01T10:00:00Z\nPayload:hi\n"
	if err := ioutil.WriteFile(filepath.Join(dir, LogFileName), []byte(record+record), 0600); err != nil {
		t.Fatal(err)
	}

	store, err := NewLogStore(dir, "alice")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.Replay(); !cm.IsStore(err, cm.CorruptLog) {
		t.Fatalf("expected CorruptLog, got %v", err)
	}
}
