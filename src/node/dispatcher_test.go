package node

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/mosaicnetworks/chirp/src/clock"
	"github.com/mosaicnetworks/chirp/src/common"
	"github.com/mosaicnetworks/chirp/src/net"
)

// brokenTransport accepts connections but fails every write.
type brokenTransport struct {
	*net.InmemTransport
}

func (b *brokenTransport) Probe(target string) error {
	return nil
}

func (b *brokenTransport) Send(target string, msg *net.Message) error {
	return errors.New("connection reset by peer")
}

func TestSelectRecipients(t *testing.T) {
	cores := initCores(t, clock.MergeFull, "alice", "bob", "carol")
	alice := cores["alice"]

	names := func() []string {
		res := []string{}
		for _, p := range SelectRecipients(alice.Directory(), alice.Self(), "alice") {
			res = append(res, p.Name)
		}
		return res
	}

	if got := names(); !reflect.DeepEqual(got, []string{"bob", "carol"}) {
		t.Fatalf("recipients should be bob and carol, not %v", got)
	}

	alice.Block("carol")

	if got := names(); !reflect.DeepEqual(got, []string{"bob"}) {
		t.Fatalf("recipients should be bob, not %v", got)
	}

	// the queues follow the same selection
	alice.Tweet("hello")
	if !hasPayload(alice.Pending("bob"), "hello") || hasPayload(alice.Pending("carol"), "hello") {
		t.Fatalf("hello should be queued for bob only, bob=%v carol=%v",
			alice.Pending("bob"), alice.Pending("carol"))
	}
}

func TestDispatchUnreachable(t *testing.T) {
	cores := initCores(t, clock.MergeFull, "alice", "bob")
	alice := cores["alice"]
	_, trans := net.NewInmemTransport("")

	d := NewDispatcher(alice, trans, common.NewTestEntry(t, common.TestLogLevel))

	alice.Tweet("anyone there?")

	if err := d.Dispatch(); err != nil {
		t.Fatalf("an unreachable peer is not an error: %v", err)
	}

	if len(alice.Pending("bob")) != 1 {
		t.Fatalf("bob's queue should be kept, got %v", alice.Pending("bob"))
	}

	if d.Stats()["unreachable_peers"] != 1 {
		t.Fatalf("expected 1 unreachable peer, got %v", d.Stats())
	}
}

func TestDispatchSends(t *testing.T) {
	cores := initCores(t, clock.MergeFull, "alice", "bob", "carol")
	alice := cores["alice"]
	bobAddr := alice.Directory().Peers().ByName["bob"].NetAddr

	_, aliceTrans := net.NewInmemTransport("")
	_, bobTrans := net.NewInmemTransport(bobAddr)
	aliceTrans.Connect(bobAddr, bobTrans)

	d := NewDispatcher(alice, aliceTrans, common.NewTestEntry(t, common.TestLogLevel))

	alice.Tweet("one")
	alice.Tweet("two")

	if err := d.Dispatch(); err != nil {
		t.Fatal(err)
	}

	select {
	case rpc := <-bobTrans.Consumer():
		msg := rpc.Command
		if msg.From != "alice" || len(msg.Events) != 2 {
			t.Fatalf("unexpected message %#v", msg)
		}
		if !reflect.DeepEqual(msg.Matrix, alice.Matrix().Flatten()) {
			t.Fatalf("message should carry alice's clock")
		}
	case <-time.After(time.Second):
		t.Fatalf("bob received nothing")
	}

	if len(alice.Pending("bob")) != 0 {
		t.Fatalf("bob's queue should be cleared")
	}

	if len(alice.Pending("carol")) != 2 {
		t.Fatalf("carol is unreachable and should keep her queue")
	}
}

func TestDispatchSendFailed(t *testing.T) {
	cores := initCores(t, clock.MergeFull, "alice", "bob")
	alice := cores["alice"]
	_, inmem := net.NewInmemTransport("")

	d := NewDispatcher(alice, &brokenTransport{inmem}, common.NewTestEntry(t, common.TestLogLevel))

	alice.Tweet("lost")

	if err := d.Dispatch(); !errors.Is(err, ErrSendFailed) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}

	if len(alice.Pending("bob")) != 1 {
		t.Fatalf("bob's queue should be kept after a failed send")
	}
}

func TestDispatchDropsStaleQueue(t *testing.T) {
	cores := initCores(t, clock.MergeFull, "alice", "bob")
	alice := cores["alice"]
	_, trans := net.NewInmemTransport("")

	d := NewDispatcher(alice, trans, common.NewTestEntry(t, common.TestLogLevel))

	alice.Tweet("before")
	alice.Block("bob")

	if err := d.Dispatch(); err != nil {
		t.Fatal(err)
	}

	if len(alice.Pending("bob")) != 0 {
		t.Fatalf("events bob may no longer see should be dropped, got %v", alice.Pending("bob"))
	}
}
