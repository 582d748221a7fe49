package pipelining

import (
	"log"

	"github.com/sarchlab/clocksim/sim/hooking"
	"github.com/sarchlab/clocksim/sim/naming"
)

// HookPosBufPush marks when an element is pushed into the buffer.
var HookPosBufPush = &hooking.HookPos{Name: "Buffer Push"}

// HookPosBufPop marks when an element is popped from the buffer.
var HookPosBufPop = &hooking.HookPos{Name: "Buffer Pop"}

// A Buffer is a bounded FIFO queue. It is owned by one clockable and is not
// safe for concurrent use.
type Buffer[T any] struct {
	hooking.HookableBase

	name     string
	capacity int
	elements []T
}

// NewBuffer creates a buffer that holds up to capacity elements.
func NewBuffer[T any](name string, capacity int) *Buffer[T] {
	naming.NameMustBeValid(name)

	if capacity <= 0 {
		log.Panicf("buffer %s: capacity must be positive", name)
	}

	return &Buffer[T]{
		name:     name,
		capacity: capacity,
	}
}

// Name returns the name of the buffer.
func (b *Buffer[T]) Name() string {
	return b.name
}

// CanPush tells if one more element fits.
func (b *Buffer[T]) CanPush() bool {
	return len(b.elements) < b.capacity
}

// Push appends an element. It panics if the buffer is full.
func (b *Buffer[T]) Push(e T) {
	if len(b.elements) >= b.capacity {
		log.Panicf("buffer %s overflow", b.name)
	}

	b.elements = append(b.elements, e)

	if b.NumHooks() > 0 {
		b.InvokeHook(hooking.HookCtx{
			Domain: b,
			Pos:    HookPosBufPush,
			Item:   e,
		})
	}
}

// Pop removes the oldest element.
func (b *Buffer[T]) Pop() (T, bool) {
	var zero T

	if len(b.elements) == 0 {
		return zero, false
	}

	e := b.elements[0]
	b.elements[0] = zero
	b.elements = b.elements[1:]

	if b.NumHooks() > 0 {
		b.InvokeHook(hooking.HookCtx{
			Domain: b,
			Pos:    HookPosBufPop,
			Item:   e,
		})
	}

	return e, true
}

// Peek returns the oldest element without removing it.
func (b *Buffer[T]) Peek() (T, bool) {
	if len(b.elements) == 0 {
		var zero T
		return zero, false
	}

	return b.elements[0], true
}

// Capacity returns the maximum number of elements.
func (b *Buffer[T]) Capacity() int {
	return b.capacity
}

// Size returns the number of elements.
func (b *Buffer[T]) Size() int {
	return len(b.elements)
}

// Clear removes all the elements.
func (b *Buffer[T]) Clear() {
	b.elements = nil
}
