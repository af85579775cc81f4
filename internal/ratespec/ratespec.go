// Package ratespec implements the four-component bandwidth contract
// (bitRateUp, bitRateDown, pktRateUp, pktRateDown) used to describe
// the capacity of an underlay link, a comtree backbone link, or a leaf's
// access link.
package ratespec

import "fmt"

// RateSpec is a value type: all operations return new values and never
// mutate the receiver or argument.
type RateSpec struct {
	BitRateUp    int64
	BitRateDown  int64
	PktRateUp    int64
	PktRateDown  int64
}

// Zero is the all-zero RateSpec.
var Zero = RateSpec{}

// New builds a RateSpec from its four components, clamping any
// negative input to zero (arithmetic in this package is saturating).
func New(bitUp, bitDown, pktUp, pktDown int64) RateSpec {
	return RateSpec{
		BitRateUp:   clamp(bitUp),
		BitRateDown: clamp(bitDown),
		PktRateUp:   clamp(pktUp),
		PktRateDown: clamp(pktDown),
	}
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// Add returns r + o, componentwise.
func (r RateSpec) Add(o RateSpec) RateSpec {
	return RateSpec{
		BitRateUp:   r.BitRateUp + o.BitRateUp,
		BitRateDown: r.BitRateDown + o.BitRateDown,
		PktRateUp:   r.PktRateUp + o.PktRateUp,
		PktRateDown: r.PktRateDown + o.PktRateDown,
	}
}

// Subtract returns r - o, componentwise, saturating at zero.
func (r RateSpec) Subtract(o RateSpec) RateSpec {
	return RateSpec{
		BitRateUp:   satSub(r.BitRateUp, o.BitRateUp),
		BitRateDown: satSub(r.BitRateDown, o.BitRateDown),
		PktRateUp:   satSub(r.PktRateUp, o.PktRateUp),
		PktRateDown: satSub(r.PktRateDown, o.PktRateDown),
	}
}

func satSub(a, b int64) int64 {
	if a <= b {
		return 0
	}
	return a - b
}

// Flip swaps the up/down pairs. Used when debiting a link's available
// rate from the perspective of the far endpoint.
func (r RateSpec) Flip() RateSpec {
	return RateSpec{
		BitRateUp:   r.BitRateDown,
		BitRateDown: r.BitRateUp,
		PktRateUp:   r.PktRateDown,
		PktRateDown: r.PktRateUp,
	}
}

// Scale multiplies every component by factor, truncating towards zero.
func (r RateSpec) Scale(factor float64) RateSpec {
	return RateSpec{
		BitRateUp:   int64(float64(r.BitRateUp) * factor),
		BitRateDown: int64(float64(r.BitRateDown) * factor),
		PktRateUp:   int64(float64(r.PktRateUp) * factor),
		PktRateDown: int64(float64(r.PktRateDown) * factor),
	}
}

// Leq reports whether r is componentwise <= o. This is the feasibility
// test used everywhere capacity is checked before a reservation.
func (r RateSpec) Leq(o RateSpec) bool {
	return r.BitRateUp <= o.BitRateUp &&
		r.BitRateDown <= o.BitRateDown &&
		r.PktRateUp <= o.PktRateUp &&
		r.PktRateDown <= o.PktRateDown
}

// IsZero reports whether every component is zero.
func (r RateSpec) IsZero() bool {
	return r == Zero
}

// Equal reports componentwise equality.
func (r RateSpec) Equal(o RateSpec) bool {
	return r == o
}

// Min returns the componentwise minimum of r and o.
func Min(r, o RateSpec) RateSpec {
	return RateSpec{
		BitRateUp:   minI(r.BitRateUp, o.BitRateUp),
		BitRateDown: minI(r.BitRateDown, o.BitRateDown),
		PktRateUp:   minI(r.PktRateUp, o.PktRateUp),
		PktRateDown: minI(r.PktRateDown, o.PktRateDown),
	}
}

func minI(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func (r RateSpec) String() string {
	return fmt.Sprintf("(%d,%d,%d,%d)", r.BitRateUp, r.BitRateDown, r.PktRateUp, r.PktRateDown)
}
