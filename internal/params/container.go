// Package params implements click model parameters: containers mapping keys
// to probability cells, the parameters that wrap them, and the accumulators
// inference fills between updates.
package params

import (
	"fmt"
	"math"
	"sort"
)

// Shape identifies how a container is keyed.
type Shape int

const (
	// QueryDoc keys by (query, document). Grows with the corpus.
	QueryDoc Shape = iota
	// Rank keys by a 1-based index. Fixed size.
	Rank
	// RankPair keys by (rank, previous click rank), previous 0 meaning none.
	// Fixed size of ranks × (ranks+1).
	RankPair
	// Singleton has exactly one cell.
	Singleton
	// Grade keys by relevance grade. Grows with the grades seen.
	Grade
)

func (s Shape) String() string {
	switch s {
	case QueryDoc:
		return "query-doc"
	case Rank:
		return "rank"
	case RankPair:
		return "rank-pair"
	case Singleton:
		return "singleton"
	case Grade:
		return "grade"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// Key addresses one cell. Which fields are meaningful depends on the shape of
// the container it is used with.
type Key struct {
	Query string `json:"query,omitempty" yaml:"query,omitempty"`
	Doc   string `json:"doc,omitempty" yaml:"doc,omitempty"`
	Rank  int    `json:"rank,omitempty" yaml:"rank,omitempty"`
	Prev  int    `json:"prev,omitempty" yaml:"prev,omitempty"`
	Grade int    `json:"grade,omitempty" yaml:"grade,omitempty"`
}

func (k Key) String() string {
	return fmt.Sprintf("q=%s d=%s r=%d p=%d g=%d", k.Query, k.Doc, k.Rank, k.Prev, k.Grade)
}

// Cell is the state stored for one key.
type Cell struct {
	Value       float64
	Numerator   float64
	Denominator float64
}

// Entry pairs a key with its current value.
type Entry struct {
	Key   Key
	Value float64
}

// Container maps keys to cells. Unknown keys read the default value.
type Container interface {
	Shape() Shape
	Default() float64
	Get(k Key) float64
	Set(k Key, v float64) error
	// Valid reports whether Set accepts k.
	Valid(k Key) bool
	AddNumerator(k Key, x float64)
	AddDenominator(k Key, x float64)
	ResetAccumulators()
	// Update replaces every value with numerator/denominator clamped to
	// [lo, hi], skips cells with a zero denominator, resets the accumulators
	// and returns the largest absolute change.
	Update(lo, hi float64) float64
	Entries() []Entry
	Len() int
}

// NewContainer creates an empty container. size is the number of ranks for
// Rank and RankPair shapes and ignored otherwise.
func NewContainer(shape Shape, size int, def float64) (Container, error) {
	if def < 0 || def > 1 || math.IsNaN(def) {
		return nil, fmt.Errorf("default value %v outside [0,1]", def)
	}
	switch shape {
	case QueryDoc, Grade:
		return &mapContainer{shape: shape, def: def, cells: make(map[Key]*Cell)}, nil
	case Rank:
		if size < 1 {
			return nil, fmt.Errorf("rank container needs a positive size, got %d", size)
		}
		return newGrid(shape, size, 1, def), nil
	case RankPair:
		if size < 1 {
			return nil, fmt.Errorf("rank-pair container needs a positive size, got %d", size)
		}
		return newGrid(shape, size, size+1, def), nil
	case Singleton:
		return newGrid(shape, 1, 1, def), nil
	default:
		return nil, fmt.Errorf("unknown container shape %v", shape)
	}
}

func checkValue(v float64) error {
	if v < 0 || v > 1 || math.IsNaN(v) {
		return fmt.Errorf("value %v outside [0,1]", v)
	}
	return nil
}

func updateCell(c *Cell, lo, hi float64) float64 {
	defer func() { c.Numerator, c.Denominator = 0, 0 }()
	if c.Denominator <= 0 {
		return 0
	}
	v := c.Numerator / c.Denominator
	v = math.Min(math.Max(v, lo), hi)
	delta := math.Abs(v - c.Value)
	c.Value = v
	return delta
}

// mapContainer backs the lazily grown shapes.
type mapContainer struct {
	shape Shape
	def   float64
	cells map[Key]*Cell
}

func (m *mapContainer) Shape() Shape     { return m.shape }
func (m *mapContainer) Default() float64 { return m.def }
func (m *mapContainer) Len() int         { return len(m.cells) }

func (m *mapContainer) norm(k Key) Key {
	if m.shape == Grade {
		return Key{Grade: k.Grade}
	}
	return Key{Query: k.Query, Doc: k.Doc}
}

func (m *mapContainer) cell(k Key) *Cell {
	k = m.norm(k)
	c, ok := m.cells[k]
	if !ok {
		c = &Cell{Value: m.def}
		m.cells[k] = c
	}
	return c
}

func (m *mapContainer) Get(k Key) float64 {
	if c, ok := m.cells[m.norm(k)]; ok {
		return c.Value
	}
	return m.def
}

func (m *mapContainer) Valid(Key) bool { return true }

func (m *mapContainer) Set(k Key, v float64) error {
	if err := checkValue(v); err != nil {
		return err
	}
	m.cell(k).Value = v
	return nil
}

func (m *mapContainer) AddNumerator(k Key, x float64)   { m.cell(k).Numerator += x }
func (m *mapContainer) AddDenominator(k Key, x float64) { m.cell(k).Denominator += x }

func (m *mapContainer) ResetAccumulators() {
	for _, c := range m.cells {
		c.Numerator, c.Denominator = 0, 0
	}
}

func (m *mapContainer) Update(lo, hi float64) float64 {
	var maxDelta float64
	for _, c := range m.cells {
		maxDelta = math.Max(maxDelta, updateCell(c, lo, hi))
	}
	return maxDelta
}

func (m *mapContainer) Entries() []Entry {
	entries := make([]Entry, 0, len(m.cells))
	for k, c := range m.cells {
		entries = append(entries, Entry{Key: k, Value: c.Value})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Key, entries[j].Key
		if a.Grade != b.Grade {
			return a.Grade < b.Grade
		}
		if a.Query != b.Query {
			return a.Query < b.Query
		}
		return a.Doc < b.Doc
	})
	return entries
}

// gridContainer backs the fixed shapes. Cells are stored row-major by rank.
type gridContainer struct {
	shape Shape
	def   float64
	rows  int
	cols  int
	cells []Cell
}

func newGrid(shape Shape, rows, cols int, def float64) *gridContainer {
	g := &gridContainer{shape: shape, def: def, rows: rows, cols: cols, cells: make([]Cell, rows*cols)}
	for i := range g.cells {
		g.cells[i].Value = def
	}
	return g
}

func (g *gridContainer) Shape() Shape     { return g.shape }
func (g *gridContainer) Default() float64 { return g.def }
func (g *gridContainer) Len() int         { return len(g.cells) }

// index returns -1 for keys outside the grid.
func (g *gridContainer) index(k Key) int {
	switch g.shape {
	case Singleton:
		return 0
	case Rank:
		if k.Rank < 1 || k.Rank > g.rows {
			return -1
		}
		return k.Rank - 1
	default:
		if k.Rank < 1 || k.Rank > g.rows || k.Prev < 0 || k.Prev >= g.cols {
			return -1
		}
		return (k.Rank-1)*g.cols + k.Prev
	}
}

func (g *gridContainer) key(i int) Key {
	switch g.shape {
	case Singleton:
		return Key{}
	case Rank:
		return Key{Rank: i + 1}
	default:
		return Key{Rank: i/g.cols + 1, Prev: i % g.cols}
	}
}

func (g *gridContainer) Get(k Key) float64 {
	if i := g.index(k); i >= 0 {
		return g.cells[i].Value
	}
	return g.def
}

func (g *gridContainer) Valid(k Key) bool { return g.index(k) >= 0 }

func (g *gridContainer) Set(k Key, v float64) error {
	if err := checkValue(v); err != nil {
		return err
	}
	i := g.index(k)
	if i < 0 {
		return fmt.Errorf("key %v outside %s container", k, g.shape)
	}
	g.cells[i].Value = v
	return nil
}

func (g *gridContainer) AddNumerator(k Key, x float64) {
	if i := g.index(k); i >= 0 {
		g.cells[i].Numerator += x
	}
}

func (g *gridContainer) AddDenominator(k Key, x float64) {
	if i := g.index(k); i >= 0 {
		g.cells[i].Denominator += x
	}
}

func (g *gridContainer) ResetAccumulators() {
	for i := range g.cells {
		g.cells[i].Numerator, g.cells[i].Denominator = 0, 0
	}
}

func (g *gridContainer) Update(lo, hi float64) float64 {
	var maxDelta float64
	for i := range g.cells {
		maxDelta = math.Max(maxDelta, updateCell(&g.cells[i], lo, hi))
	}
	return maxDelta
}

func (g *gridContainer) Entries() []Entry {
	entries := make([]Entry, len(g.cells))
	for i, c := range g.cells {
		entries[i] = Entry{Key: g.key(i), Value: c.Value}
	}
	return entries
}
