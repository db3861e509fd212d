package clock

import (
	"bytes"
	"fmt"
	"strconv"
)

// MergePolicy decides which rows of a received clock are merged into the local
// one.
type MergePolicy int

const (
	// MergeFull takes the cell-wise maximum of every row except the local
	// one.
	MergeFull MergePolicy = iota

	// MergeSenderRow only merges the sender's own row, the only row the sender
	// has first-hand knowledge of.
	MergeSenderRow
)

// String returns the configuration name of a MergePolicy.
func (p MergePolicy) String() string {
	switch p {
	case MergeFull:
		return "full"
	case MergeSenderRow:
		return "sender-row"
	default:
		return "unknown"
	}
}

// ParseMergePolicy converts a configuration value into a MergePolicy.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch s {
	case "full", "":
		return MergeFull, nil
	case "sender-row":
		return MergeSenderRow, nil
	default:
		return MergeFull, fmt.Errorf("unknown merge policy %q (full, sender-row)", s)
	}
}

// Matrix is a matrix clock. Cell [i][j] counts the events of node j that node
// i has delivered, as far as the owner of the clock knows. Row self is the
// owner's own delivery record; it only moves through IncrementSelf and
// ApplyDelivery, never through Merge.
type Matrix struct {
	self  int
	cells [][]int
}

// NewMatrix creates a zeroed n x n clock owned by node self.
func NewMatrix(n, self int) *Matrix {
	cells := make([][]int, n)
	for i := range cells {
		cells[i] = make([]int, n)
	}
	return &Matrix{
		self:  self,
		cells: cells,
	}
}

// FromFlat rebuilds a clock from its row-major representation.
func FromFlat(n, self int, flat []int) (*Matrix, error) {
	if len(flat) != n*n {
		return nil, fmt.Errorf("matrix clock: expected %d values, got %d", n*n, len(flat))
	}
	m := NewMatrix(n, self)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := flat[i*n+j]
			if v < 0 {
				return nil, fmt.Errorf("matrix clock: negative value %d at [%d][%d]", v, i, j)
			}
			m.cells[i][j] = v
		}
	}
	return m, nil
}

// Size returns N.
func (m *Matrix) Size() int {
	return len(m.cells)
}

// Self returns the index of the owner.
func (m *Matrix) Self() int {
	return m.self
}

// Get returns cell [i][j].
func (m *Matrix) Get(i, j int) int {
	return m.cells[i][j]
}

// Row returns a copy of row i.
func (m *Matrix) Row(i int) []int {
	row := make([]int, len(m.cells[i]))
	copy(row, m.cells[i])
	return row
}

// IncrementSelf records a locally generated event and returns its sequence
// number.
func (m *Matrix) IncrementSelf() int {
	m.cells[m.self][m.self]++
	return m.cells[m.self][m.self]
}

// CanDeliver reports whether the event seq of origin is the next one expected
// from that origin.
func (m *Matrix) CanDeliver(origin, seq int) bool {
	return m.cells[m.self][origin] == seq-1
}

// Delivered reports whether the event seq of origin has already been
// delivered locally.
func (m *Matrix) Delivered(origin, seq int) bool {
	return m.cells[m.self][origin] >= seq
}

// ApplyDelivery records the delivery of event seq of origin.
func (m *Matrix) ApplyDelivery(origin, seq int) {
	if seq > m.cells[m.self][origin] {
		m.cells[m.self][origin] = seq
	}
}

// Raise lifts the local row to at least the given per-origin counts. It is
// used when rebuilding the clock from the event log.
func (m *Matrix) Raise(row []int) {
	for j, v := range row {
		if j < len(m.cells) && v > m.cells[m.self][j] {
			m.cells[m.self][j] = v
		}
	}
}

// HasReceived reports whether, as far as the owner knows, peer has delivered
// event seq of origin.
func (m *Matrix) HasReceived(peer, origin, seq int) bool {
	return m.cells[peer][origin] >= seq
}

// Merge folds a clock received from sender into m. The local row is never
// modified.
func (m *Matrix) Merge(remote *Matrix, sender int, policy MergePolicy) error {
	n := len(m.cells)
	if remote.Size() != n {
		return fmt.Errorf("matrix clock: cannot merge %dx%d into %dx%d", remote.Size(), remote.Size(), n, n)
	}
	if sender < 0 || sender >= n {
		return fmt.Errorf("matrix clock: sender %d out of range", sender)
	}

	switch policy {
	case MergeSenderRow:
		if sender != m.self {
			m.maxRow(sender, remote.cells[sender])
		}
	default:
		for k := 0; k < n; k++ {
			if k == m.self {
				continue
			}
			m.maxRow(k, remote.cells[k])
		}
	}

	return nil
}

func (m *Matrix) maxRow(k int, row []int) {
	for j, v := range row {
		if v > m.cells[k][j] {
			m.cells[k][j] = v
		}
	}
}

// Flatten returns the row-major representation of the clock.
func (m *Matrix) Flatten() []int {
	n := len(m.cells)
	flat := make([]int, 0, n*n)
	for _, row := range m.cells {
		flat = append(flat, row...)
	}
	return flat
}

// Copy returns a deep copy of m.
func (m *Matrix) Copy() *Matrix {
	c := NewMatrix(len(m.cells), m.self)
	for i, row := range m.cells {
		copy(c.cells[i], row)
	}
	return c
}

// Equal compares the cells of two clocks, ignoring ownership.
func (m *Matrix) Equal(other *Matrix) bool {
	if other == nil || other.Size() != m.Size() {
		return false
	}
	for i, row := range m.cells {
		for j, v := range row {
			if other.cells[i][j] != v {
				return false
			}
		}
	}
	return true
}

// String renders the clock as N lines of N space-separated counters.
func (m *Matrix) String() string {
	var buffer bytes.Buffer
	for _, row := range m.cells {
		for j, v := range row {
			if j > 0 {
				buffer.WriteString(" ")
			}
			buffer.WriteString(strconv.Itoa(v))
		}
		buffer.WriteString("\n")
	}
	return buffer.String()
}
