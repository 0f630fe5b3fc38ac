package params

// Sums holds the numerator and denominator gathered for one key.
type Sums struct {
	Num float64
	Den float64
}

// Accumulator collects sufficient statistics for a subset of sessions. Each
// worker owns one, so no locking is needed; Flush moves the sums into the
// containers from a single goroutine.
type Accumulator struct {
	order []*Param
	sums  map[*Param]map[Key]*Sums
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{sums: make(map[*Param]map[Key]*Sums)}
}

func (a *Accumulator) entry(p *Param, k Key) *Sums {
	m, ok := a.sums[p]
	if !ok {
		m = make(map[Key]*Sums)
		a.sums[p] = m
		a.order = append(a.order, p)
	}
	s, ok := m[k]
	if !ok {
		s = &Sums{}
		m[k] = s
	}
	return s
}

// Add records num and den for key k of p.
func (a *Accumulator) Add(p *Param, k Key, num, den float64) {
	s := a.entry(p, k)
	s.Num += num
	s.Den += den
}

// Get returns the sums recorded for key k of p.
func (a *Accumulator) Get(p *Param, k Key) Sums {
	if m, ok := a.sums[p]; ok {
		if s, ok := m[k]; ok {
			return *s
		}
	}
	return Sums{}
}

// Keys returns how many keys of p received contributions.
func (a *Accumulator) Keys(p *Param) int {
	return len(a.sums[p])
}

// Flush adds every recorded sum to the owning containers and empties the
// accumulator.
func (a *Accumulator) Flush() {
	for _, p := range a.order {
		for k, s := range a.sums[p] {
			p.C.AddNumerator(k, s.Num)
			p.C.AddDenominator(k, s.Den)
		}
	}
	a.order = a.order[:0]
	a.sums = make(map[*Param]map[Key]*Sums)
}
