package node

import (
	"fmt"
	"sort"
	"time"

	"github.com/mosaicnetworks/chirp/src/clock"
	"github.com/mosaicnetworks/chirp/src/common"
	"github.com/mosaicnetworks/chirp/src/event"
	"github.com/mosaicnetworks/chirp/src/peers"
	"github.com/mosaicnetworks/chirp/src/store"
	"github.com/sirupsen/logrus"
)

// Core is the causal delivery engine of a node. It owns the matrix clock, the
// event log, the delivery buffer and the pending-notify queues, and it is not
// safe for concurrent use: the node loop is its only caller.
type Core struct {
	// self is the name of the local node and selfID its directory index.
	self   string
	selfID int

	// directory holds the static peer list and the follow/block state of
	// every node, as updated by delivered Block and Unblock events.
	directory *peers.Directory

	clock  *clock.Matrix
	policy clock.MergePolicy

	// log is the durable history of delivered events. It is authoritative
	// for the local row of the clock.
	log *store.LogStore

	// store persists the clock snapshot, the pending queues and the buffer.
	store store.StateStore

	// pending holds, per peer, the events that peer should be sent on the
	// next dispatch.
	pending map[string][]event.Event

	// buffer holds received events that are not deliverable yet.
	buffer map[event.ID]event.Event

	now func() time.Time

	receivedMessages int
	receivedEvents   int
	duplicates       int

	logger *logrus.Entry
}

// NewCore is a factory method that returns a new Core object. Bootstrap must
// be called before anything else.
func NewCore(
	self string,
	directory *peers.Directory,
	log *store.LogStore,
	stateStore store.StateStore,
	policy clock.MergePolicy,
	logger *logrus.Entry) (*Core, error) {

	selfID, ok := directory.Peers().IDOf(self)
	if !ok {
		return nil, fmt.Errorf("%s is not in the directory", self)
	}

	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	core := &Core{
		self:      self,
		selfID:    selfID,
		directory: directory,
		clock:     clock.NewMatrix(directory.Peers().Len(), selfID),
		policy:    policy,
		log:       log,
		store:     stateStore,
		pending:   make(map[string][]event.Event),
		buffer:    make(map[event.ID]event.Event),
		now:       time.Now,
		logger:    logger,
	}

	return core, nil
}

// Bootstrap rebuilds the state of the node from its stores: the clock from
// the last snapshot, then the log replay on top of it, the follow/block state
// from the replayed Block and Unblock events, and the pending queues and
// buffer as they were persisted.
func (c *Core) Bootstrap() (*store.Replay, error) {
	n := c.directory.Peers().Len()

	flat, err := c.store.GetMatrix()
	switch {
	case err == nil:
		restored, err := clock.FromFlat(n, c.selfID, flat)
		if err != nil {
			c.logger.WithError(err).Warn("Ignoring matrix snapshot")
		} else {
			c.clock = restored
		}
	case !common.IsStore(err, common.KeyNotFound):
		return nil, err
	}

	replay, err := c.log.Replay()
	if err != nil {
		return nil, err
	}

	row := make([]int, n)
	for _, e := range replay.Events {
		id, ok := c.directory.Peers().IDOf(e.Origin)
		if !ok {
			return nil, common.NewStoreErr("Log", common.UnknownNode, e.ID().String())
		}
		row[id] = e.Seq
		c.applySideEffect(e)
	}
	c.clock.Raise(row)

	for _, p := range c.directory.Peers().Peers {
		queue, err := c.store.GetPending(p.Name)
		if err != nil {
			return nil, err
		}
		if len(queue) > 0 {
			c.pending[p.Name] = queue
		}
	}

	buffered, err := c.store.BufferedEvents()
	if err != nil {
		return nil, err
	}
	for _, e := range buffered {
		c.buffer[e.ID()] = e
	}

	// own events the clock does not show a peer holding are queued again,
	// in case the pending queues were not kept
	for _, p := range c.Recipients(c.self) {
		if err := c.backfill(p.Name, c.self); err != nil {
			return nil, err
		}
	}

	if err := c.drain(); err != nil {
		return nil, err
	}

	if err := c.saveClock(); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"events":      len(replay.Events),
		"self_events": replay.SelfEvents,
		"buffered":    len(c.buffer),
		"pending":     c.PendingCount(),
	}).Debug("Bootstrap")

	return replay, nil
}

//==============================================================================
// Local actions

// Tweet records a new tweet from the local node.
func (c *Core) Tweet(message string) (event.Event, error) {
	seq := c.clock.IncrementSelf()
	e := event.NewTweet(c.self, seq, c.now(), message)
	return e, c.commitLocal(e)
}

// Block records that the local node blocks target. The target must be
// another node of the directory that is not blocked yet.
func (c *Core) Block(target string) (event.Event, error) {
	if err := c.checkTarget(target); err != nil {
		return event.Event{}, err
	}
	if c.directory.Blocks(c.self, target) {
		return event.Event{}, fmt.Errorf("%w: %s is already blocked", ErrInvalidTarget, target)
	}

	seq := c.clock.IncrementSelf()
	e := event.NewBlock(c.self, seq, c.now(), target)
	return e, c.commitLocal(e)
}

// Unblock records that the local node unblocks target, which must currently
// be blocked.
func (c *Core) Unblock(target string) (event.Event, error) {
	if err := c.checkTarget(target); err != nil {
		return event.Event{}, err
	}
	if !c.directory.Blocks(c.self, target) {
		return event.Event{}, fmt.Errorf("%w: %s is not blocked", ErrInvalidTarget, target)
	}

	seq := c.clock.IncrementSelf()
	e := event.NewUnblock(c.self, seq, c.now(), target)
	return e, c.commitLocal(e)
}

func (c *Core) checkTarget(target string) error {
	if target == c.self {
		return fmt.Errorf("%w: cannot target yourself", ErrInvalidTarget)
	}
	if !c.directory.Has(target) {
		return fmt.Errorf("%w: unknown node %q", ErrInvalidTarget, target)
	}
	return nil
}

func (c *Core) commitLocal(e event.Event) error {
	if err := c.apply(e); err != nil {
		return err
	}
	return c.saveClock()
}

//==============================================================================
// Reception

// Receive processes a message from sender: the remote clock is merged, new
// events are buffered, and every event that became deliverable is
// delivered. Events already delivered or already buffered are ignored.
//
// A message rejected before any state change returns an error wrapping
// ErrUnknownSender or ErrInvalidMessage. Any other error comes from the
// stores and the node must stop.
func (c *Core) Receive(sender string, remoteClock []int, events []event.Event) error {
	senderID, ok := c.directory.Peers().IDOf(sender)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSender, sender)
	}

	n := c.directory.Peers().Len()
	remote, err := clock.FromFlat(n, senderID, remoteClock)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	if err := c.clock.Merge(remote, senderID, c.policy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	c.receivedMessages++

	for _, e := range events {
		originID, ok := c.directory.Peers().IDOf(e.Origin)
		if !ok {
			c.logger.WithFields(logrus.Fields{
				"sender": sender,
				"event":  e.ID().String(),
			}).Warn("Dropping event from unknown origin")
			continue
		}

		c.receivedEvents++

		if c.clock.Delivered(originID, e.Seq) {
			c.duplicates++
			continue
		}
		if _, ok := c.buffer[e.ID()]; ok {
			c.duplicates++
			continue
		}

		if err := c.store.AddBuffered(e); err != nil {
			return err
		}
		c.buffer[e.ID()] = e
	}

	if err := c.drain(); err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"sender":   sender,
		"events":   len(events),
		"buffered": len(c.buffer),
	}).Debug("Receive")

	return c.saveClock()
}

// drain delivers buffered events until none is deliverable. Delivering an
// event can make the next one of the same origin deliverable, hence the
// loop.
func (c *Core) drain() error {
	for {
		progress := false

		for _, e := range c.Buffered() {
			originID, _ := c.directory.Peers().IDOf(e.Origin)

			switch {
			case c.clock.Delivered(originID, e.Seq):
				if err := c.unbuffer(e); err != nil {
					return err
				}
			case c.clock.CanDeliver(originID, e.Seq):
				if err := c.apply(e); err != nil {
					return err
				}
				if err := c.unbuffer(e); err != nil {
					return err
				}
				progress = true
			}
		}

		if !progress {
			return nil
		}
	}
}

func (c *Core) unbuffer(e event.Event) error {
	delete(c.buffer, e.ID())
	return c.store.RemoveBuffered(e.ID())
}

// apply delivers an event: log, side effect, clock, then pending queues.
// Nothing changes in memory if the log append fails.
func (c *Core) apply(e event.Event) error {
	originID, _ := c.directory.Peers().IDOf(e.Origin)

	if err := c.log.Append(e); err != nil {
		return err
	}

	c.applySideEffect(e)

	c.clock.ApplyDelivery(originID, e.Seq)

	c.logger.WithFields(logrus.Fields{
		"event": e.ID().String(),
		"type":  e.Type.String(),
	}).Debug("Delivered")

	if err := c.enqueue(e); err != nil {
		return err
	}

	if e.Type == event.Unblock {
		if target, err := e.Target(); err == nil {
			return c.backfill(target, e.Origin)
		}
	}

	return nil
}

func (c *Core) applySideEffect(e event.Event) {
	if e.Type == event.Tweet {
		return
	}

	target, err := e.Target()
	if err != nil {
		c.logger.WithError(err).WithField("event", e.ID().String()).Warn("Ignoring malformed block payload")
		return
	}

	state, ok := c.directory.State(e.Origin)
	if !ok {
		return
	}

	if e.Type == event.Block {
		state.Block(target)
	} else {
		state.Unblock(target)
	}
}

//==============================================================================
// Pending queues

// Eligible reports whether peer may be sent the events of origin: it is not
// the local node, it follows origin, and origin has not blocked it.
func (c *Core) Eligible(peer, origin string) bool {
	return eligible(c.directory, c.self, peer, origin)
}

// Recipients returns the peers eligible for the events of origin, in
// directory order.
func (c *Core) Recipients(origin string) []*peers.Peer {
	return SelectRecipients(c.directory, c.self, origin)
}

// needs reports whether peer should still be sent e.
func (c *Core) needs(peer *peers.Peer, e event.Event) bool {
	if peer.Name == e.Origin || !c.Eligible(peer.Name, e.Origin) {
		return false
	}
	originID, _ := c.directory.Peers().IDOf(e.Origin)
	return !c.clock.HasReceived(peer.ID, originID, e.Seq)
}

func (c *Core) enqueue(e event.Event) error {
	for _, p := range c.Recipients(e.Origin) {
		if !c.needs(p, e) {
			continue
		}
		if err := c.addPending(p.Name, []event.Event{e}); err != nil {
			return err
		}
	}
	return nil
}

// backfill queues for peer the logged events of origin that peer does not
// have according to the clock. It runs when origin unblocks peer, so that the
// events withheld during the block reach it in order.
func (c *Core) backfill(peer, origin string) error {
	p, ok := c.directory.Peers().ByName[peer]
	if !ok || p.Name == c.self {
		return nil
	}

	originID, _ := c.directory.Peers().IDOf(origin)
	missing := []event.Event{}
	for _, e := range c.log.OriginEvents(origin, c.clock.Get(p.ID, originID)) {
		if c.needs(p, e) {
			missing = append(missing, e)
		}
	}

	if len(missing) == 0 {
		return nil
	}

	c.logger.WithFields(logrus.Fields{
		"peer":   peer,
		"origin": origin,
		"events": len(missing),
	}).Debug("Backfill")

	return c.addPending(peer, missing)
}

func (c *Core) addPending(peer string, events []event.Event) error {
	queue := c.pending[peer]

	queued := make(map[event.ID]bool, len(queue))
	for _, q := range queue {
		queued[q.ID()] = true
	}

	changed := false
	for _, e := range events {
		if queued[e.ID()] {
			continue
		}
		queue = append(queue, e)
		queued[e.ID()] = true
		changed = true
	}

	if !changed {
		return nil
	}

	c.pending[peer] = queue
	return c.store.SetPending(peer, queue)
}

// Pending returns a copy of the queue of peer.
func (c *Core) Pending(peer string) []event.Event {
	queue := c.pending[peer]
	res := make([]event.Event, len(queue))
	copy(res, queue)
	return res
}

// Outgoing returns the events of the queue of peer that are still worth
// sending: peer is still eligible for their origin and, as far as the clock
// tells, does not have them yet.
func (c *Core) Outgoing(peer *peers.Peer) []event.Event {
	res := []event.Event{}
	for _, e := range c.pending[peer.Name] {
		if c.needs(peer, e) {
			res = append(res, e)
		}
	}
	return res
}

// ClearPending empties the queue of peer.
func (c *Core) ClearPending(peer string) error {
	if _, ok := c.pending[peer]; !ok {
		return nil
	}
	delete(c.pending, peer)
	return c.store.SetPending(peer, nil)
}

// PendingCount returns the number of queued events across all peers.
func (c *Core) PendingCount() int {
	count := 0
	for _, q := range c.pending {
		count += len(q)
	}
	return count
}

//==============================================================================
// Views

// Self returns the name of the local node.
func (c *Core) Self() string {
	return c.self
}

// Directory returns the peer directory with its follow/block state.
func (c *Core) Directory() *peers.Directory {
	return c.directory
}

// Matrix returns a copy of the clock.
func (c *Core) Matrix() *clock.Matrix {
	return c.clock.Copy()
}

// Log returns every delivered event in delivery order.
func (c *Core) Log() []event.Event {
	return c.log.Events()
}

// Feed returns the tweets the local node can see, in delivery order: its own
// tweets, and those of followed nodes that have not blocked it.
func (c *Core) Feed() []event.Event {
	res := []event.Event{}
	for _, e := range c.log.Events() {
		if e.Type != event.Tweet {
			continue
		}
		if e.Origin == c.self ||
			(c.directory.Follows(c.self, e.Origin) && !c.directory.Blocks(e.Origin, c.self)) {
			res = append(res, e)
		}
	}
	return res
}

// Buffered returns the buffered events sorted by origin and sequence.
func (c *Core) Buffered() []event.Event {
	res := make([]event.Event, 0, len(c.buffer))
	for _, e := range c.buffer {
		res = append(res, e)
	}
	sort.Sort(event.ByID(res))
	return res
}

// SelfEvents returns the number of events generated locally.
func (c *Core) SelfEvents() int {
	return c.clock.Get(c.selfID, c.selfID)
}

// Stats returns counters describing the activity of the engine.
func (c *Core) Stats() map[string]int {
	return map[string]int{
		"self_events":       c.SelfEvents(),
		"delivered_events":  c.log.Len(),
		"buffered_events":   len(c.buffer),
		"pending_events":    c.PendingCount(),
		"received_messages": c.receivedMessages,
		"received_events":   c.receivedEvents,
		"duplicate_events":  c.duplicates,
	}
}

func (c *Core) saveClock() error {
	return c.store.SetMatrix(c.clock.Flatten())
}

// Close closes the event log and the state store.
func (c *Core) Close() error {
	logErr := c.log.Close()
	if err := c.store.Close(); err != nil {
		return err
	}
	return logErr
}
