package offsetter

import (
	"errors"
	"fmt"
)

// Pattern errors.
var (
	ErrInvalidPattern = errors.New("invalid offset pattern")
)

// Pattern is the cyclic dithering pattern: equal-length RA and Dec offset
// sequences read in lock-step, wrapping past the end.
type Pattern struct {
	ra   []float64
	dec  []float64
	next int
}

// NewPattern validates and builds a pattern. The two sequences must be
// non-empty and of equal length.
func NewPattern(ra, dec []float64) (*Pattern, error) {
	if len(ra) == 0 || len(dec) == 0 {
		return nil, fmt.Errorf("%w: empty offset list", ErrInvalidPattern)
	}
	if len(ra) != len(dec) {
		return nil, fmt.Errorf("%w: %d ra offsets vs %d dec offsets", ErrInvalidPattern, len(ra), len(dec))
	}

	p := &Pattern{
		ra:  make([]float64, len(ra)),
		dec: make([]float64, len(dec)),
	}
	copy(p.ra, ra)
	copy(p.dec, dec)
	return p, nil
}

// Len returns the cycle length.
func (p *Pattern) Len() int { return len(p.ra) }

// Position returns the index the next call to Next will read.
func (p *Pattern) Position() int { return p.next }

// Next pops the next offset pair, wrapping to the start after a full cycle.
func (p *Pattern) Next() (ra, dec float64) {
	ra = p.ra[p.next]
	dec = p.dec[p.next]
	p.next = (p.next + 1) % len(p.ra)
	return ra, dec
}
