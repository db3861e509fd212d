package chirp

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mosaicnetworks/chirp/src/common"
	"github.com/mosaicnetworks/chirp/src/config"
	"github.com/mosaicnetworks/chirp/src/node/state"
)

func freePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func initDataDir(t *testing.T, names ...string) string {
	dir, err := ioutil.TempDir("", "chirp")
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	for _, name := range names {
		fmt.Fprintf(&buf, "%s, 127.0.0.1, %d\n", name, freePort(t))
	}
	if err := ioutil.WriteFile(filepath.Join(dir, "peers.csv"), buf.Bytes(), 0600); err != nil {
		t.Fatal(err)
	}

	return dir
}

func testConfig(t *testing.T, dataDir, name string) *config.Config {
	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.DataDir = dataDir
	conf.Name = name
	conf.NoService = true
	conf.PollTimeout = 10 * time.Millisecond
	return conf
}

// start runs c in the background and waits for its node to start. The error
// of Run is sent on the returned channel.
func start(t *testing.T, c *Chirp) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Run()
	}()

	deadline := time.Now().Add(5 * time.Second)
	for c.Node.GetState() != state.Running {
		if time.Now().After(deadline) {
			t.Fatalf("%s did not start", c.Config.Name)
		}
		time.Sleep(5 * time.Millisecond)
	}

	return errCh
}

// stop shuts c down and checks that Run returned without error.
func stop(t *testing.T, c *Chirp, errCh <-chan error) {
	c.Shutdown()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("%s stopped with an error: %v", c.Config.Name, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("%s did not stop", c.Config.Name)
	}
}

// waitLog polls the snapshot of c until its log holds n events.
func waitLog(t *testing.T, c *Chirp, n int) {
	deadline := time.Now().Add(5 * time.Second)
	for len(c.Node.GetSnapshot().Log) != n {
		if time.Now().After(deadline) {
			t.Fatalf("%s should have %d events in its log, got %v", c.Config.Name, n, c.Node.GetSnapshot().Log)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTweetAcrossProcesses(t *testing.T) {
	dir := initDataDir(t, "alice", "bob")
	defer os.RemoveAll(dir)

	bob := NewChirp(testConfig(t, dir, "bob"), strings.NewReader(""), ioutil.Discard)
	if err := bob.Init(); err != nil {
		t.Fatalf("init bob: %v", err)
	}
	bobErr := start(t, bob)

	var aliceOut bytes.Buffer
	alice := NewChirp(testConfig(t, dir, "alice"), strings.NewReader("Tweet\nhello bob\n"), &aliceOut)
	if err := alice.Init(); err != nil {
		t.Fatalf("init alice: %v", err)
	}
	aliceErr := start(t, alice)

	// bob's input is already exhausted but he still receives
	delivered := false
	for deadline := time.Now().Add(5 * time.Second); time.Now().Before(deadline); {
		snapshot := bob.Node.GetSnapshot()
		if len(snapshot.Feed) == 1 && snapshot.Feed[0].Payload == "hello bob" {
			delivered = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !delivered {
		t.Fatalf("bob did not receive alice's tweet")
	}

	stop(t, alice, aliceErr)
	stop(t, bob, bobErr)

	if !strings.Contains(aliceOut.String(), "Hello alice. Welcome to Twitter!") {
		t.Fatalf("alice should have been welcomed, got %q", aliceOut.String())
	}

	// Restart alice on the same data directory.
	var restartOut bytes.Buffer
	alice = NewChirp(testConfig(t, dir, "alice"), strings.NewReader(""), &restartOut)
	if err := alice.Init(); err != nil {
		t.Fatalf("restart alice: %v", err)
	}
	stop(t, alice, start(t, alice))

	if !strings.Contains(restartOut.String(), "You have 1 events.") {
		t.Fatalf("restarted alice should report 1 event, got %q", restartOut.String())
	}
	if m := alice.Node.GetSnapshot().Matrix; m[0][0] != 1 {
		t.Fatalf("M[alice][alice] should be 1 after restart, not %d", m[0][0])
	}
}

func TestInitErrors(t *testing.T) {
	dir := initDataDir(t, "alice", "bob")
	defer os.RemoveAll(dir)

	if err := NewChirp(testConfig(t, dir, "zed"), strings.NewReader(""), ioutil.Discard).Init(); err == nil {
		t.Fatalf("a name missing from the directory should fail")
	}

	conf := testConfig(t, dir, "alice")
	conf.PeersFile = filepath.Join(dir, "missing.csv")
	if err := NewChirp(conf, strings.NewReader(""), ioutil.Discard).Init(); err == nil {
		t.Fatalf("a missing directory file should fail")
	}

	conf = testConfig(t, dir, "alice")
	conf.MergePolicy = "random"
	if err := NewChirp(conf, strings.NewReader(""), ioutil.Discard).Init(); err == nil {
		t.Fatalf("an unknown merge policy should fail")
	}
}

func TestInmemStateStore(t *testing.T) {
	dir := initDataDir(t, "alice", "bob")
	defer os.RemoveAll(dir)

	conf := testConfig(t, dir, "alice")
	conf.Store = false

	var out bytes.Buffer
	alice := NewChirp(conf, strings.NewReader("Tweet\nfirst\nBlock bob\n"), &out)
	if err := alice.Init(); err != nil {
		t.Fatalf("init alice: %v", err)
	}
	errCh := start(t, alice)
	waitLog(t, alice, 2)
	stop(t, alice, errCh)

	conf = testConfig(t, dir, "alice")
	conf.Store = false
	out.Reset()
	alice = NewChirp(conf, strings.NewReader(""), &out)
	if err := alice.Init(); err != nil {
		t.Fatalf("restart alice: %v", err)
	}
	stop(t, alice, start(t, alice))

	if !strings.Contains(out.String(), "You have 2 events.") {
		t.Fatalf("restarted alice should replay 2 events from the log, got %q", out.String())
	}
	snapshot := alice.Node.GetSnapshot()
	if len(snapshot.Peers) != 2 || len(snapshot.Peers[0].Blocked) != 1 || snapshot.Peers[0].Blocked[0] != "bob" {
		t.Fatalf("the block should survive the restart, got %+v", snapshot.Peers)
	}
}
