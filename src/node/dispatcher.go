package node

import (
	"errors"
	"fmt"

	"github.com/mosaicnetworks/chirp/src/net"
	"github.com/mosaicnetworks/chirp/src/peers"
	"github.com/sirupsen/logrus"
)

// Dispatcher sends the pending-notify queues of a Core to the peers they are
// meant for.
type Dispatcher struct {
	core   *Core
	trans  net.Transport
	logger *logrus.Entry

	sent        int
	unreachable int
}

// NewDispatcher ...
func NewDispatcher(core *Core, trans net.Transport, logger *logrus.Entry) *Dispatcher {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &Dispatcher{
		core:   core,
		trans:  trans,
		logger: logger,
	}
}

// SelectRecipients returns the peers of dir, other than self, that may
// receive the events of origin: they follow origin and origin has not blocked
// them. Peers come in directory order. New events are queued for these peers,
// and Dispatch drops queued events whose peer left the set.
func SelectRecipients(dir *peers.Directory, self, origin string) []*peers.Peer {
	res := []*peers.Peer{}
	for _, p := range dir.Peers().Peers {
		if eligible(dir, self, p.Name, origin) {
			res = append(res, p)
		}
	}
	return res
}

func eligible(dir *peers.Directory, self, peer, origin string) bool {
	return peer != self &&
		dir.Follows(peer, origin) &&
		!dir.Blocks(origin, peer)
}

// Dispatch visits the peers in directory order and sends each one its
// pending events in a single message, together with the full clock. Events
// the peer is no longer eligible for, or already has, are discarded. An
// unreachable peer keeps its queue for the next dispatch. A failure to write
// to a peer that accepted the connection is fatal and returned as
// ErrSendFailed.
func (d *Dispatcher) Dispatch() error {
	for _, p := range d.core.Directory().Peers().Peers {
		if p.Name == d.core.Self() || len(d.core.Pending(p.Name)) == 0 {
			continue
		}

		events := d.core.Outgoing(p)
		if len(events) == 0 {
			if err := d.core.ClearPending(p.Name); err != nil {
				return err
			}
			continue
		}

		if err := d.trans.Probe(p.NetAddr); err != nil {
			d.unreachable++
			d.logger.WithFields(logrus.Fields{
				"peer":  p.Name,
				"error": err,
			}).Debug("Peer unreachable")
			continue
		}

		msg := net.NewMessage(d.core.Self(), d.core.Matrix().Flatten(), events)

		if err := d.trans.Send(p.NetAddr, msg); err != nil {
			if errors.Is(err, net.ErrUnreachable) {
				d.unreachable++
				d.logger.WithFields(logrus.Fields{
					"peer":  p.Name,
					"error": err,
				}).Debug("Peer unreachable")
				continue
			}
			return fmt.Errorf("%w: %s: %v", ErrSendFailed, p.Name, err)
		}

		d.sent++
		d.logger.WithFields(logrus.Fields{
			"peer":   p.Name,
			"events": len(events),
		}).Debug("Sent")

		if err := d.core.ClearPending(p.Name); err != nil {
			return err
		}
	}

	return nil
}

// Stats returns the number of messages sent and of skipped unreachable
// peers.
func (d *Dispatcher) Stats() map[string]int {
	return map[string]int{
		"sent_messages":     d.sent,
		"unreachable_peers": d.unreachable,
	}
}
