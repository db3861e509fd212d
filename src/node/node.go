package node

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mosaicnetworks/chirp/src/clock"
	"github.com/mosaicnetworks/chirp/src/event"
	"github.com/mosaicnetworks/chirp/src/net"
	"github.com/mosaicnetworks/chirp/src/node/state"
	"github.com/mosaicnetworks/chirp/src/store"
	"github.com/sirupsen/logrus"
)

// Console is the source of user commands polled by the node loop.
type Console interface {
	// Lines returns the channel of input lines. It is closed at the end of
	// the input.
	Lines() <-chan string

	// Handle executes one command line. It runs on the node loop and only
	// returns errors that must stop the node.
	Handle(line string) error
}

// Node runs the single loop that owns a Core. The loop alternates between
// the console and the network: it waits up to PollTimeout for a command and
// processes it completely, then waits up to PollTimeout for one inbound
// message and processes it.
//
// Tweet, Block, Unblock and the views (Feed, Log, Matrix) must only be
// called from the loop, that is by the Console. Other goroutines read the
// Snapshot the loop publishes.
type Node struct {
	state.Manager

	conf   *Config
	logger *logrus.Entry

	core       *Core
	dispatcher *Dispatcher

	trans net.Transport
	netCh <-chan net.RPC

	shutdownCh chan struct{}
	doneCh     chan struct{}
	stopOnce   sync.Once
	closeOnce  sync.Once

	start time.Time

	snapshotLock sync.RWMutex
	snapshot     *Snapshot
}

// NewNode is a factory method that returns a Node instance
func NewNode(conf *Config, core *Core, trans net.Transport) *Node {
	logger := conf.Logger.WithFields(logrus.Fields{
		"prefix": "node",
		"name":   core.Self(),
	})

	node := &Node{
		conf:       conf,
		logger:     logger,
		core:       core,
		dispatcher: NewDispatcher(core, trans, logger.WithField("component", "dispatcher")),
		trans:      trans,
		netCh:      trans.Consumer(),
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
		start:      time.Now(),
	}

	return node
}

// Init rebuilds the node state from its stores and returns what the log
// replay found.
func (n *Node) Init() (*store.Replay, error) {
	replay, err := n.core.Bootstrap()
	if err != nil {
		return nil, err
	}

	n.logger.WithFields(logrus.Fields{
		"events":      len(replay.Events),
		"self_events": replay.SelfEvents,
	}).Debug("Init")

	n.publish()

	return replay, nil
}

// RunAsync calls Run in a separate goroutine. Errors are logged.
func (n *Node) RunAsync(console Console) {
	go func() {
		if err := n.Run(console); err != nil {
			n.logger.WithError(err).Error("Node stopped")
		}
	}()
}

// Run invokes the main loop of the node. It returns nil when the node is shut
// down, and an error when a command or an inbound message failed fatally.
// The end of console input stops reading commands but the node keeps serving
// its peers. The transport and stores are closed when it returns.
func (n *Node) Run(console Console) error {
	if !n.CompareAndSetState(state.Idle, state.Running) {
		return fmt.Errorf("cannot run node in state %s", n.GetState())
	}
	defer n.cleanup()

	n.start = time.Now()
	n.GoFunc(n.trans.Listen)

	var lines <-chan string
	if console != nil {
		lines = console.Lines()
	}

	for {
		if n.GetState() == state.Shutdown {
			return nil
		}

		select {
		case line, ok := <-lines:
			if !ok {
				n.logger.Debug("End of console input")
				lines = nil
				continue
			}
			if err := console.Handle(line); err != nil {
				n.logger.WithError(err).Error("Command failed")
				return err
			}
			n.publish()
		case <-time.After(n.conf.PollTimeout):
		case <-n.shutdownCh:
			return nil
		}

		if n.GetState() == state.Shutdown {
			return nil
		}

		select {
		case rpc := <-n.netCh:
			if err := n.processRPC(rpc); err != nil {
				n.logger.WithError(err).Error("Inbound message failed")
				return err
			}
		case <-time.After(n.conf.PollTimeout):
		case <-n.shutdownCh:
			return nil
		}
	}
}

// processRPC hands a message to the core. Rejected messages are dropped;
// store failures are returned.
func (n *Node) processRPC(rpc net.RPC) error {
	msg := rpc.Command

	err := n.core.Receive(msg.From, msg.Matrix, msg.Events)

	rpc.Respond(err)

	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownSender), errors.Is(err, ErrInvalidMessage):
		n.logger.WithError(err).WithField("from", msg.From).Warn("Dropped inbound message")
	default:
		return err
	}

	n.publish()

	return nil
}

//==============================================================================
// Commands

// Tweet creates a tweet and dispatches the pending queues.
func (n *Node) Tweet(message string) error {
	e, err := n.core.Tweet(message)
	if err != nil {
		return err
	}
	return n.afterLocalEvent(e)
}

// Block blocks target and dispatches the pending queues. An invalid target
// returns ErrInvalidTarget and changes nothing.
func (n *Node) Block(target string) error {
	e, err := n.core.Block(target)
	if err != nil {
		return err
	}
	return n.afterLocalEvent(e)
}

// Unblock unblocks target and dispatches the pending queues. An invalid
// target returns ErrInvalidTarget and changes nothing.
func (n *Node) Unblock(target string) error {
	e, err := n.core.Unblock(target)
	if err != nil {
		return err
	}
	return n.afterLocalEvent(e)
}

func (n *Node) afterLocalEvent(e event.Event) error {
	n.logger.WithFields(logrus.Fields{
		"event": e.ID().String(),
		"type":  e.Type.String(),
	}).Debug("Local event")

	err := n.dispatcher.Dispatch()
	n.publish()
	return err
}

// Name returns the name of the local node.
func (n *Node) Name() string {
	return n.core.Self()
}

// Feed returns the tweets visible to the local node.
func (n *Node) Feed() []event.Event {
	return n.core.Feed()
}

// Log returns every delivered event in delivery order.
func (n *Node) Log() []event.Event {
	return n.core.Log()
}

// Matrix returns a copy of the matrix clock.
func (n *Node) Matrix() *clock.Matrix {
	return n.core.Matrix()
}

// Peers returns the names of the directory in order.
func (n *Node) Peers() []string {
	return n.core.Directory().Peers().Names()
}

//==============================================================================
// Lifecycle

func (n *Node) stop() {
	n.stopOnce.Do(func() {
		n.SetState(state.Shutdown)
		close(n.shutdownCh)
	})
}

// cleanup closes the transport and stores once every background routine is
// done.
func (n *Node) cleanup() {
	n.closeOnce.Do(func() {
		n.stop()

		n.trans.Close()
		n.WaitRoutines()

		if err := n.core.Close(); err != nil {
			n.logger.WithError(err).Error("Closing stores")
		}

		close(n.doneCh)
	})
}

// Shutdown stops the loop and closes the transport and stores. It waits for a
// running loop to return.
func (n *Node) Shutdown() {
	running := n.GetState() == state.Running

	n.logger.Debug("Shutdown")
	n.stop()

	if running {
		<-n.doneCh
		return
	}

	n.cleanup()
}

// Done returns a channel that is closed once the node has shut down.
func (n *Node) Done() <-chan struct{} {
	return n.doneCh
}

//==============================================================================
// Snapshots

// PeerView is what the inspection API shows about one directory entry.
type PeerView struct {
	Name    string   `json:"name"`
	NetAddr string   `json:"net_addr"`
	Blocked []string `json:"blocked"`
	Pending int      `json:"pending"`
}

// Snapshot is a copy of the node state, published by the loop after every
// step, that other goroutines can read safely.
type Snapshot struct {
	Stats  map[string]string `json:"stats"`
	Matrix [][]int           `json:"matrix"`
	Log    []event.Event     `json:"log"`
	Feed   []event.Event     `json:"feed"`
	Peers  []PeerView        `json:"peers"`
}

func (n *Node) publish() {
	m := n.core.Matrix()
	rows := make([][]int, m.Size())
	for i := range rows {
		rows[i] = m.Row(i)
	}

	views := []PeerView{}
	for _, p := range n.core.Directory().Peers().Peers {
		view := PeerView{
			Name:    p.Name,
			NetAddr: p.NetAddr,
			Blocked: []string{},
			Pending: len(n.core.Pending(p.Name)),
		}
		if s, ok := n.core.Directory().State(p.Name); ok {
			view.Blocked = s.BlockedNames()
		}
		views = append(views, view)
	}

	snapshot := &Snapshot{
		Stats:  n.stats(),
		Matrix: rows,
		Log:    n.core.Log(),
		Feed:   n.core.Feed(),
		Peers:  views,
	}

	n.snapshotLock.Lock()
	n.snapshot = snapshot
	n.snapshotLock.Unlock()
}

// GetSnapshot returns the last published Snapshot, or nil before Init.
func (n *Node) GetSnapshot() *Snapshot {
	n.snapshotLock.RLock()
	defer n.snapshotLock.RUnlock()
	return n.snapshot
}

// GetStats returns the stats of the last published Snapshot.
func (n *Node) GetStats() map[string]string {
	s := n.GetSnapshot()
	if s == nil {
		return map[string]string{
			"name":  n.core.Self(),
			"state": n.GetState().String(),
		}
	}

	res := make(map[string]string, len(s.Stats)+1)
	for k, v := range s.Stats {
		res[k] = v
	}
	res["state"] = n.GetState().String()
	return res
}

func (n *Node) stats() map[string]string {
	res := map[string]string{
		"name":         n.core.Self(),
		"state":        n.GetState().String(),
		"num_peers":    strconv.Itoa(n.core.Directory().Peers().Len()),
		"time_elapsed": strconv.FormatFloat(time.Since(n.start).Seconds(), 'f', 2, 64),
	}
	for k, v := range n.core.Stats() {
		res[k] = strconv.Itoa(v)
	}
	for k, v := range n.dispatcher.Stats() {
		res[k] = strconv.Itoa(v)
	}
	return res
}
