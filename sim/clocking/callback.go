package clocking

import (
	"log"
	"sync/atomic"
)

// Signature tells which of the three call shapes a Callback wraps.
type Signature int

// The supported call shapes.
const (
	// SignatureCycle calls func(cycle uint64).
	SignatureCycle Signature = iota
	// SignatureCycleEdge calls func(cycle uint64, edge Edge).
	SignatureCycleEdge
	// SignaturePhase calls func(p Phase).
	SignaturePhase
)

func (s Signature) String() string {
	switch s {
	case SignatureCycle:
		return "cycle"
	case SignatureCycleEdge:
		return "cycle+edge"
	case SignaturePhase:
		return "phase"
	default:
		return "unknown"
	}
}

// A Callback binds a per-cycle method of a clockable. The server only looks
// at the edge, for ordering, and at the signature, to know how to call it.
type Callback struct {
	id    string
	sig   Signature
	edge  Edge
	owner *ClockableBase

	cycleFn     func(cycle uint64)
	cycleEdgeFn func(cycle uint64, edge Edge)
	phaseFn     func(p Phase)

	registered bool
	skew       uint32
	released   atomic.Bool
}

// ID returns the handle of the callback.
func (cb *Callback) ID() string {
	return cb.id
}

// Signature returns the call shape of the callback.
func (cb *Callback) Signature() Signature {
	return cb.sig
}

// Edge returns the edge the callback is tagged with.
func (cb *Callback) Edge() Edge {
	return cb.edge
}

// SetEdge changes the edge tag. It must be called before registration.
func (cb *Callback) SetEdge(e Edge) {
	if !e.IsValid() {
		log.Panicf("callback %s: invalid edge %d", cb.id, e)
	}

	if cb.registered {
		log.Panicf("callback %s: cannot change the edge after registration",
			cb.id)
	}

	cb.edge = e
}

// Skew returns the effective skew assigned at registration.
func (cb *Callback) Skew() uint32 {
	return cb.skew
}

// IsRegistered tells if the callback has been registered with a domain.
func (cb *Callback) IsRegistered() bool {
	return cb.registered
}

// IsReleased tells if the owner has released the callback. Released
// callbacks are skipped by the server.
func (cb *Callback) IsReleased() bool {
	return cb.released.Load()
}

func (cb *Callback) release() {
	cb.released.Store(true)
}

func (cb *Callback) invoke(cycle uint64) {
	switch cb.sig {
	case SignatureCycle:
		cb.cycleFn(cycle)
	case SignatureCycleEdge:
		cb.cycleEdgeFn(cycle, cb.edge)
	case SignaturePhase:
		cb.phaseFn(Phase{Cycle: cycle, Edge: cb.edge})
	default:
		log.Panicf("callback %s: unknown signature %d", cb.id, cb.sig)
	}
}
