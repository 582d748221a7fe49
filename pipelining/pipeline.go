// Package pipelining provides fixed-latency pipelines that clocked models use
// to delay items by a number of their own cycles.
package pipelining

import (
	"log"

	"github.com/sarchlab/clocksim/sim/hooking"
)

// HookPosPipelineAccept marks when an element enters the first stage.
var HookPosPipelineAccept = &hooking.HookPos{Name: "Pipeline Accept"}

// HookPosPipelineLeave marks when an element leaves the last stage.
var HookPosPipelineLeave = &hooking.HookPos{Name: "Pipeline Leave"}

// A Sink is where elements go after the last stage.
type Sink[T any] interface {
	CanPush() bool
	Push(e T)
}

type stageInfo[T any] struct {
	elem      T
	occupied  bool
	cycleLeft int
}

// A Pipeline moves elements forward by at most one stage per Tick. An element
// stays cyclePerStage ticks in every stage.
type Pipeline[T any] struct {
	hooking.HookableBase

	name          string
	width         int
	numStage      int
	cyclePerStage int
	sink          Sink[T]
	stages        [][]stageInfo[T]
}

// Name returns the name of the pipeline.
func (p *Pipeline[T]) Name() string {
	return p.name
}

// NumStage returns the number of stages.
func (p *Pipeline[T]) NumStage() int {
	return p.numStage
}

// Clear discards all the elements in the pipeline.
func (p *Pipeline[T]) Clear() {
	p.stages = make([][]stageInfo[T], p.width)
	for i := 0; i < p.width; i++ {
		p.stages[i] = make([]stageInfo[T], p.numStage)
	}
}

// Tick moves elements in the pipeline forward.
func (p *Pipeline[T]) Tick() (madeProgress bool) {
	for lane := 0; lane < p.width; lane++ {
		for i := p.numStage - 1; i >= 0; i-- {
			stage := &p.stages[lane][i]

			if !stage.occupied {
				continue
			}

			if stage.cycleLeft > 0 {
				stage.cycleLeft--
				madeProgress = true

				continue
			}

			if i == p.numStage-1 {
				madeProgress = p.tryMoveToSink(stage) || madeProgress
			} else {
				madeProgress = p.tryMoveToNextStage(lane, i) || madeProgress
			}
		}
	}

	return madeProgress
}

func (p *Pipeline[T]) tryMoveToSink(stage *stageInfo[T]) bool {
	if !p.sink.CanPush() {
		return false
	}

	p.sink.Push(stage.elem)
	p.leave(stage.elem)

	var zero T
	stage.elem = zero
	stage.occupied = false

	return true
}

func (p *Pipeline[T]) tryMoveToNextStage(lane, stageNum int) bool {
	stage := &p.stages[lane][stageNum]
	nextStage := &p.stages[lane][stageNum+1]

	if nextStage.occupied {
		return false
	}

	*nextStage = stageInfo[T]{
		elem:      stage.elem,
		occupied:  true,
		cycleLeft: p.cyclePerStage - 1,
	}
	*stage = stageInfo[T]{}

	return true
}

// CanAccept checks if the pipeline can accept a new element.
func (p *Pipeline[T]) CanAccept() bool {
	if p.numStage == 0 {
		return p.sink.CanPush()
	}

	for lane := 0; lane < p.width; lane++ {
		if !p.stages[lane][0].occupied {
			return true
		}
	}

	return false
}

// Accept adds an element to the first stage. It panics if CanAccept is false.
func (p *Pipeline[T]) Accept(elem T) {
	if p.numStage == 0 {
		p.sink.Push(elem)
		p.accept(elem)
		p.leave(elem)

		return
	}

	for lane := 0; lane < p.width; lane++ {
		if p.stages[lane][0].occupied {
			continue
		}

		p.stages[lane][0] = stageInfo[T]{
			elem:      elem,
			occupied:  true,
			cycleLeft: p.cyclePerStage - 1,
		}
		p.accept(elem)

		return
	}

	log.Panicf("pipeline %s is not free, check CanAccept first", p.name)
}

// Len returns the number of elements in the stages.
func (p *Pipeline[T]) Len() int {
	n := 0

	for _, lane := range p.stages {
		for _, s := range lane {
			if s.occupied {
				n++
			}
		}
	}

	return n
}

func (p *Pipeline[T]) accept(elem T) {
	if p.NumHooks() == 0 {
		return
	}

	p.InvokeHook(hooking.HookCtx{
		Domain: p,
		Pos:    HookPosPipelineAccept,
		Item:   elem,
	})
}

func (p *Pipeline[T]) leave(elem T) {
	if p.NumHooks() == 0 {
		return
	}

	p.InvokeHook(hooking.HookCtx{
		Domain: p,
		Pos:    HookPosPipelineLeave,
		Item:   elem,
	})
}
