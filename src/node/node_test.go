package node

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mosaicnetworks/chirp/src/clock"
	"github.com/mosaicnetworks/chirp/src/common"
	"github.com/mosaicnetworks/chirp/src/net"
	"github.com/mosaicnetworks/chirp/src/node/state"
	"github.com/mosaicnetworks/chirp/src/peers"
	"github.com/mosaicnetworks/chirp/src/store"
)

// testConsole feeds "tweet <msg>", "block <name>" and "unblock <name>" lines
// to a node.
type testConsole struct {
	node  *Node
	lines chan string
}

func newTestConsole() *testConsole {
	return &testConsole{lines: make(chan string, 16)}
}

func (c *testConsole) Lines() <-chan string {
	return c.lines
}

func (c *testConsole) Handle(line string) error {
	fields := strings.SplitN(line, " ", 2)
	var err error
	switch fields[0] {
	case "tweet":
		err = c.node.Tweet(fields[1])
	case "block":
		err = c.node.Block(fields[1])
	case "unblock":
		err = c.node.Unblock(fields[1])
	}
	if errors.Is(err, ErrInvalidTarget) {
		return nil
	}
	return err
}

type testNode struct {
	node    *Node
	console *testConsole
	trans   *net.InmemTransport
}

func initNodes(t *testing.T, policy clock.MergePolicy, names ...string) map[string]*testNode {
	dir := t.TempDir()
	peerSet := peers.NewPeerSetFromNames("127.0.0.1", 7000, names...)

	nodes := make(map[string]*testNode)
	for _, p := range peerSet.Peers {
		_, trans := net.NewInmemTransport(p.NetAddr)

		log, err := store.NewLogStore(filepath.Join(dir, p.Name), p.Name)
		if err != nil {
			t.Fatal(err)
		}

		ps := peers.NewPeerSetFromNames("127.0.0.1", 7000, names...)
		core, err := NewCore(p.Name, peers.NewDirectory(ps), log, store.NewInmemStore(), policy,
			common.NewTestEntry(t, common.TestLogLevel))
		if err != nil {
			t.Fatal(err)
		}

		node := NewNode(TestConfig(t), core, trans)
		if _, err := node.Init(); err != nil {
			t.Fatal(err)
		}

		console := newTestConsole()
		console.node = node

		nodes[p.Name] = &testNode{node: node, console: console, trans: trans}
	}

	return nodes
}

func link(a, b *testNode) {
	a.trans.Connect(b.trans.LocalAddr(), b.trans)
	b.trans.Connect(a.trans.LocalAddr(), a.trans)
}

func runNodes(t *testing.T, nodes map[string]*testNode) {
	for _, n := range nodes {
		n.node.RunAsync(n.console)
	}

	for name, n := range nodes {
		deadline := time.Now().Add(2 * time.Second)
		for n.node.GetState() != state.Running {
			if time.Now().After(deadline) {
				t.Fatalf("%s did not start", name)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func shutdownNodes(nodes map[string]*testNode) {
	for _, n := range nodes {
		n.node.Shutdown()
	}
}

// waitFor polls the published snapshot of n until cond holds.
func waitFor(t *testing.T, n *testNode, what string, cond func(*Snapshot) bool) {
	deadline := time.Now().Add(5 * time.Second)
	for {
		if s := n.node.GetSnapshot(); s != nil && cond(s) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s at %s", what, n.node.Name())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSingleHop(t *testing.T) {
	for _, policy := range []clock.MergePolicy{clock.MergeFull, clock.MergeSenderRow} {
		t.Run(policy.String(), func(t *testing.T) {
			nodes := initNodes(t, policy, "alice", "bob", "carol")
			link(nodes["alice"], nodes["bob"])
			link(nodes["alice"], nodes["carol"])
			link(nodes["bob"], nodes["carol"])

			runNodes(t, nodes)
			defer shutdownNodes(nodes)

			nodes["alice"].console.lines <- "tweet hello world"

			for name, row := range map[string]int{"bob": 1, "carol": 2} {
				row := row
				waitFor(t, nodes[name], "alice's tweet", func(s *Snapshot) bool {
					return hasPayload(s.Feed, "hello world") && s.Matrix[row][0] == 1
				})
			}

			waitFor(t, nodes["alice"], "empty queues", func(s *Snapshot) bool {
				return s.Stats["pending_events"] == "0"
			})
		})
	}
}

func TestTwoHopRelay(t *testing.T) {
	for _, policy := range []clock.MergePolicy{clock.MergeFull, clock.MergeSenderRow} {
		t.Run(policy.String(), func(t *testing.T) {
			nodes := initNodes(t, policy, "alice", "bob", "carol")

			// alice cannot reach carol
			link(nodes["alice"], nodes["bob"])
			link(nodes["bob"], nodes["carol"])

			runNodes(t, nodes)
			defer shutdownNodes(nodes)

			nodes["alice"].console.lines <- "tweet first hop"

			waitFor(t, nodes["bob"], "alice's tweet", func(s *Snapshot) bool {
				return hasPayload(s.Feed, "first hop")
			})

			// relays go out with bob's next local event
			nodes["bob"].console.lines <- "tweet second hop"

			waitFor(t, nodes["carol"], "relayed tweet", func(s *Snapshot) bool {
				return hasPayload(s.Feed, "first hop") && hasPayload(s.Feed, "second hop")
			})

			carol := nodes["carol"].node.GetSnapshot()
			if carol.Matrix[2][0] != 1 || carol.Matrix[2][1] != 1 {
				t.Fatalf("carol should have delivered alice#1 and bob#1, matrix %v", carol.Matrix)
			}
		})
	}
}

func TestBlockScenario(t *testing.T) {
	nodes := initNodes(t, clock.MergeFull, "alice", "bob", "carol")
	link(nodes["alice"], nodes["bob"])
	link(nodes["alice"], nodes["carol"])

	runNodes(t, nodes)
	defer shutdownNodes(nodes)

	nodes["alice"].console.lines <- "block bob"
	nodes["alice"].console.lines <- "tweet hello"

	waitFor(t, nodes["carol"], "alice's tweet", func(s *Snapshot) bool {
		return hasPayload(s.Feed, "hello")
	})

	bob := nodes["bob"].node.GetSnapshot()
	if hasPayload(bob.Log, "hello") || hasPayload(bob.Log, "alice blocked bob") {
		t.Fatalf("bob should not receive anything from alice, log %v", bob.Log)
	}

	carol := nodes["carol"].node.GetSnapshot()
	for _, p := range carol.Peers {
		if p.Name == "alice" && (len(p.Blocked) != 1 || p.Blocked[0] != "bob") {
			t.Fatalf("carol should see alice's block, got %v", p.Blocked)
		}
	}
}

// runAlone runs n in the background and waits for it to start. The error of
// Run is sent on the returned channel.
func runAlone(t *testing.T, n *testNode) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- n.node.Run(n.console)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for n.node.GetState() != state.Running {
		if time.Now().After(deadline) {
			t.Fatalf("%s did not start", n.node.Name())
		}
		time.Sleep(5 * time.Millisecond)
	}

	return errCh
}

func TestNodeServesAfterConsoleEOF(t *testing.T) {
	nodes := initNodes(t, clock.MergeFull, "alice", "bob")
	alice, bob := nodes["alice"], nodes["bob"]
	link(alice, bob)

	errCh := runAlone(t, alice)
	bob.node.RunAsync(bob.console)
	defer bob.node.Shutdown()

	alice.console.lines <- "tweet bye"
	close(alice.console.lines)

	waitFor(t, alice, "alice's last command", func(s *Snapshot) bool {
		return hasPayload(s.Log, "bye")
	})

	// alice has no more input but still delivers what bob sends
	bob.console.lines <- "tweet still there?"

	waitFor(t, alice, "bob's tweet", func(s *Snapshot) bool {
		return hasPayload(s.Log, "still there?")
	})

	if alice.node.GetState() != state.Running {
		t.Fatalf("state should be Running, not %s", alice.node.GetState())
	}

	alice.node.Shutdown()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("node did not stop")
	}

	if alice.node.GetState() != state.Shutdown {
		t.Fatalf("state should be Shutdown, not %s", alice.node.GetState())
	}
}

func TestNodeStopsOnLogFailure(t *testing.T) {
	nodes := initNodes(t, clock.MergeFull, "alice", "bob")
	alice, bob := nodes["alice"], nodes["bob"]
	link(alice, bob)

	if err := alice.node.core.log.Close(); err != nil {
		t.Fatal(err)
	}

	errCh := runAlone(t, alice)
	bob.node.RunAsync(bob.console)
	defer bob.node.Shutdown()

	bob.console.lines <- "tweet lost"

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("a failed log append should stop the node")
		}
		if errors.Is(err, ErrInvalidMessage) || errors.Is(err, ErrUnknownSender) {
			t.Fatalf("the append failure should not be reported as a rejected message: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("node did not stop")
	}

	<-alice.node.Done()
}

func TestNodeStopsOnSendFailure(t *testing.T) {
	nodes := initNodes(t, clock.MergeFull, "alice", "bob")
	alice := nodes["alice"]

	alice.node.trans = &brokenTransport{alice.trans}
	alice.node.dispatcher = NewDispatcher(alice.node.core, alice.node.trans, alice.node.logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- alice.node.Run(alice.console)
	}()

	alice.console.lines <- "tweet doomed"

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrSendFailed) {
			t.Fatalf("expected ErrSendFailed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("node did not stop")
	}

	nodes["bob"].node.Shutdown()
}
