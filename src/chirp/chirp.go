package chirp

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mosaicnetworks/chirp/src/config"
	"github.com/mosaicnetworks/chirp/src/net"
	"github.com/mosaicnetworks/chirp/src/node"
	"github.com/mosaicnetworks/chirp/src/peers"
	"github.com/mosaicnetworks/chirp/src/service"
	"github.com/mosaicnetworks/chirp/src/shell"
	"github.com/mosaicnetworks/chirp/src/store"
	"github.com/sirupsen/logrus"
)

// Chirp is a struct containing the key objects of a chirp node. It is built
// by Init from a Config, and started by Run.
type Chirp struct {
	Config    *config.Config
	Directory *peers.Directory
	Log       *store.LogStore
	Store     store.StateStore
	Transport net.Transport
	Node      *node.Node
	Shell     *shell.Shell
	Service   *service.Service

	replay *store.Replay
	in     io.Reader
	out    io.Writer
	logger *logrus.Entry
}

// NewChirp is a factory method to produce a Chirp instance. Commands are read
// from in and views are written to out; they default to the process's
// standard input and output.
func NewChirp(c *config.Config, in io.Reader, out io.Writer) *Chirp {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &Chirp{
		Config: c,
		in:     in,
		out:    out,
		logger: c.Logger(),
	}
}

// Init initialises the Chirp object based on the configuration. Any error is
// fatal.
func (c *Chirp) Init() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}

	if err := c.initPeers(); err != nil {
		return err
	}

	if err := c.initStore(); err != nil {
		return err
	}

	if err := c.initTransport(); err != nil {
		c.closeStores()
		return err
	}

	if err := c.initNode(); err != nil {
		c.Transport.Close()
		c.closeStores()
		return err
	}

	if err := c.initService(); err != nil {
		return err
	}

	return nil
}

func (c *Chirp) initPeers() error {
	csvPeers := peers.NewCSVPeerSetFromFile(c.Config.PeersPath())

	peerSet, err := csvPeers.PeerSet()
	if err != nil {
		return fmt.Errorf("loading node directory: %w", err)
	}

	if _, ok := peerSet.IDOf(c.Config.Name); !ok {
		return fmt.Errorf("%s is not in the node directory %s", c.Config.Name, csvPeers.Path())
	}

	c.Directory = peers.NewDirectory(peerSet)

	c.logger.WithFields(logrus.Fields{
		"peers": peerSet.Names(),
		"name":  c.Config.Name,
	}).Debug("Loaded node directory")

	return nil
}

func (c *Chirp) initStore() error {
	log, err := store.NewLogStore(c.Config.NodeDir(), c.Config.Name)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	c.Log = log

	if !c.Config.Store {
		c.Store = store.NewInmemStore()
		c.logger.Debug("Created new in-mem state store")
		return nil
	}

	c.logger.WithField("path", c.Config.BadgerDir()).Debug("Attempting to load or create database")

	badgerStore, err := store.NewBadgerStore(c.Config.BadgerDir(), c.logger)
	if err != nil {
		c.Log.Close()
		return fmt.Errorf("opening state store: %w", err)
	}
	c.Store = badgerStore

	return nil
}

func (c *Chirp) initTransport() error {
	self, _ := c.Directory.Peers().IDOf(c.Config.Name)
	addr := c.Directory.Peers().ByID(self).NetAddr

	transport, err := net.NewTCPTransport(
		addr,
		addr,
		c.Config.TCPTimeout,
		c.Config.MaxFrame,
		c.logger,
	)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}

	c.Transport = transport

	return nil
}

func (c *Chirp) initNode() error {
	policy, err := c.Config.Policy()
	if err != nil {
		return err
	}

	core, err := node.NewCore(
		c.Config.Name,
		c.Directory,
		c.Log,
		c.Store,
		policy,
		c.logger,
	)
	if err != nil {
		return err
	}

	c.Node = node.NewNode(c.Config.NodeConfig(), core, c.Transport)

	replay, err := c.Node.Init()
	if err != nil {
		return fmt.Errorf("failed to initialize node: %w", err)
	}
	c.replay = replay

	c.Shell = shell.NewShell(c.Node, c.in, c.out, c.logger)

	return nil
}

func (c *Chirp) initService() error {
	if !c.Config.NoService {
		c.Service = service.NewService(c.Config.ServiceAddr, c.Node, c.logger)
	}
	return nil
}

func (c *Chirp) closeStores() {
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			c.logger.WithError(err).Error("Closing state store")
		}
	}
	if c.Log != nil {
		if err := c.Log.Close(); err != nil {
			c.logger.WithError(err).Error("Closing event log")
		}
	}
}

// Run prints the welcome banner and runs the node until it is shut down or
// fails fatally. The node keeps serving its peers after the console input
// ends.
func (c *Chirp) Run() error {
	if c.Service != nil {
		go c.Service.Serve()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			c.Service.Shutdown(ctx)
		}()
	}

	c.Shell.Welcome(c.replay.SelfEvents)
	c.Shell.Start()

	return c.Node.Run(c.Shell)
}

// Shutdown stops the node.
func (c *Chirp) Shutdown() {
	c.Node.Shutdown()
}
