package clocking

import "fmt"

// Edge is the half of a cycle in which a callback runs.
type Edge int

// The clock edges. Callbacks on the LOW edge run in the back half of the
// cycle, after all HIGH callbacks registered with the same skew.
const (
	EdgeHigh Edge = iota
	EdgeLow
	NumEdges
)

// MaxSkew is the largest skew accepted at registration. Skews and edge
// offsets share the 0..99 axis of a base cycle.
const MaxSkew = 50

// SkewRange is the number of ordinal positions within one base cycle.
const SkewRange = 100

// DefaultEdgeSkews maps each edge to its offset on the skew axis.
var DefaultEdgeSkews = [NumEdges]uint32{0, 50}

func (e Edge) String() string {
	switch e {
	case EdgeHigh:
		return "HIGH"
	case EdgeLow:
		return "LOW"
	default:
		return fmt.Sprintf("Edge(%d)", int(e))
	}
}

// IsValid tells if the edge is one of the defined edges.
func (e Edge) IsValid() bool {
	return e >= EdgeHigh && e < NumEdges
}

// Phase is the argument of phase callbacks, a cycle together with the edge on
// which the callback fired.
type Phase struct {
	Cycle uint64
	Edge  Edge
}
