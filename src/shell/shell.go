package shell

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mosaicnetworks/chirp/src/clock"
	"github.com/mosaicnetworks/chirp/src/event"
	"github.com/mosaicnetworks/chirp/src/node"
	"github.com/sirupsen/logrus"
)

// UsageMessage is printed for unknown commands.
const UsageMessage = "Only valid commands include: {Tweet, Block, Unblock, View, Log, Matrix, Help}"

// Engine is what the shell drives. *node.Node implements it.
type Engine interface {
	Name() string
	Peers() []string
	Tweet(message string) error
	Block(target string) error
	Unblock(target string) error
	Feed() []event.Event
	Log() []event.Event
	Matrix() *clock.Matrix
}

// Shell reads commands line by line and executes them against an Engine. It
// implements node.Console: Lines feeds the node loop, which calls Handle for
// every line. Prompts for missing arguments read the next line.
type Shell struct {
	engine Engine
	in     io.Reader
	out    io.Writer
	lines  chan string
	logger *logrus.Entry
}

// NewShell ...
func NewShell(engine Engine, in io.Reader, out io.Writer, logger *logrus.Entry) *Shell {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &Shell{
		engine: engine,
		in:     in,
		out:    out,
		lines:  make(chan string),
		logger: logger,
	}
}

// Start launches the goroutine that reads the input. The Lines channel is
// closed at the end of the input.
func (s *Shell) Start() {
	go func() {
		defer close(s.lines)
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			s.lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			s.logger.WithError(err).Error("Reading console input")
		}
	}()
}

// Lines implements node.Console.
func (s *Shell) Lines() <-chan string {
	return s.lines
}

// Welcome prints the banner shown at startup.
func (s *Shell) Welcome(events int) {
	fmt.Fprintf(s.out, "Hello %s. Welcome to Twitter!\n", s.engine.Name())
	fmt.Fprintf(s.out, "You have %d events.\n", events)
	fmt.Fprintln(s.out, "Type Help to list the commands.")
}

// Handle implements node.Console. User mistakes are reported on the output
// and do not return an error.
func (s *Shell) Handle(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	command := fields[0]
	args := strings.TrimSpace(line[strings.Index(line, fields[0])+len(fields[0]):])

	s.logger.WithField("command", command).Debug("Console")

	switch command {
	case "Tweet":
		return s.tweet(args)
	case "Block":
		return s.block(args, "Who do you want to block? ", s.engine.Block)
	case "Unblock":
		return s.block(args, "Who do you want to unblock? ", s.engine.Unblock)
	case "View":
		s.view()
	case "Log":
		s.log()
	case "Matrix":
		s.matrix()
	case "Help":
		s.help()
	default:
		fmt.Fprintln(s.out, UsageMessage)
	}

	return nil
}

// prompt asks for a value and waits for the next line. It returns false at
// the end of the input.
func (s *Shell) prompt(question string) (string, bool) {
	fmt.Fprint(s.out, question)
	line, ok := <-s.lines
	if !ok {
		fmt.Fprintln(s.out)
		return "", false
	}
	return line, true
}

func (s *Shell) tweet(message string) error {
	if message == "" {
		var ok bool
		if message, ok = s.prompt("Input Message: "); !ok {
			return nil
		}
	}

	return s.engine.Tweet(message)
}

func (s *Shell) block(target, question string, action func(string) error) error {
	if target == "" {
		var ok bool
		if target, ok = s.prompt(question); !ok {
			return nil
		}
		target = strings.TrimSpace(target)
	}

	err := action(target)
	if errors.Is(err, node.ErrInvalidTarget) {
		fmt.Fprintf(s.out, "Cannot do that: %v\n", err)
		return nil
	}

	return err
}

func (s *Shell) view() {
	feed := s.engine.Feed()
	if len(feed) == 0 {
		fmt.Fprintln(s.out, "No tweets to show.")
		return
	}
	for _, e := range feed {
		fmt.Fprintln(s.out, FormatTweet(e))
	}
}

func (s *Shell) log() {
	events := s.engine.Log()
	if len(events) == 0 {
		fmt.Fprintln(s.out, "The log is empty.")
		return
	}
	for _, e := range events {
		fmt.Fprintln(s.out, e.String())
	}
}

func (s *Shell) matrix() {
	fmt.Fprintln(s.out, strings.Join(s.engine.Peers(), " "))
	fmt.Fprint(s.out, s.engine.Matrix().String())
}

func (s *Shell) help() {
	fmt.Fprintln(s.out, "Tweet [message]   post a message")
	fmt.Fprintln(s.out, "Block [name]      stop sending your events to name")
	fmt.Fprintln(s.out, "Unblock [name]    resume sending your events to name")
	fmt.Fprintln(s.out, "View              show your timeline")
	fmt.Fprintln(s.out, "Log               show every delivered event")
	fmt.Fprintln(s.out, "Matrix            show the matrix clock")
	fmt.Fprintln(s.out, "Help              show this list")
}

// FormatTweet renders a tweet for the timeline.
func FormatTweet(e event.Event) string {
	return fmt.Sprintf("%s (%s): %s", e.Origin, e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Payload)
}
