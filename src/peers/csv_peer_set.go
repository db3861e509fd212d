package peers

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const csvPeerSetPath = "peers.csv"

// CSVPeerSet reads the node directory from a CSV file where every row is
// "name, address, port".
type CSVPeerSet struct {
	l    sync.Mutex
	path string
}

// NewCSVPeerSet creates a CSVPeerSet with reference to a base directory where
// the peers.csv file resides.
func NewCSVPeerSet(base string) *CSVPeerSet {
	return NewCSVPeerSetFromFile(filepath.Join(base, csvPeerSetPath))
}

// NewCSVPeerSetFromFile creates a CSVPeerSet reading an explicit file.
func NewCSVPeerSetFromFile(path string) *CSVPeerSet {
	return &CSVPeerSet{
		path: path,
	}
}

// Path returns the location of the directory file.
func (c *CSVPeerSet) Path() string {
	return c.path
}

// PeerSet parses the underlying CSV file and returns the corresponding
// PeerSet.
func (c *CSVPeerSet) PeerSet() (*PeerSet, error) {
	c.l.Lock()
	defer c.l.Unlock()

	buf, err := ioutil.ReadFile(c.path)
	if err != nil {
		return nil, err
	}

	pirs, err := parsePeers(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.path, err)
	}

	if len(pirs) == 0 {
		return nil, fmt.Errorf("%s: no peers defined", c.path)
	}

	return NewPeerSet(pirs), nil
}

// Write persists a list of peers to the CSV file.
func (c *CSVPeerSet) Write(peers []*Peer) error {
	c.l.Lock()
	defer c.l.Unlock()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, p := range peers {
		host, port, err := net.SplitHostPort(p.NetAddr)
		if err != nil {
			return fmt.Errorf("peer %s: %w", p.Name, err)
		}
		if err := w.Write([]string{p.Name, host, port}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	return ioutil.WriteFile(c.path, buf.Bytes(), 0644)
}

func parsePeers(r io.Reader) ([]*Peer, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	pirs := []*Peer{}
	seen := make(map[string]bool)

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		line, _ := reader.FieldPos(0)

		if len(record) != 3 {
			return nil, fmt.Errorf("line %d: expected 3 fields (name, address, port), got %d", line, len(record))
		}

		name := clean(record[0])
		host := clean(record[1])
		portStr := clean(record[2])

		if err := ValidateName(name); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if seen[name] {
			return nil, fmt.Errorf("line %d: duplicate node name %q", line, name)
		}
		if host == "" {
			return nil, fmt.Errorf("line %d: empty address for %s", line, name)
		}

		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("line %d: invalid port %q for %s", line, portStr, name)
		}

		seen[name] = true
		pirs = append(pirs, NewPeer(name, net.JoinHostPort(host, strconv.Itoa(port))))
	}

	return pirs, nil
}

// clean strips the spaces and stray quotes that hand-written directory files
// tend to carry.
func clean(s string) string {
	return strings.Trim(strings.TrimSpace(s), "\"")
}
