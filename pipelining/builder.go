package pipelining

import (
	"log"

	"github.com/sarchlab/clocksim/sim/naming"
)

// A Builder can build pipelines.
type Builder[T any] struct {
	width         int
	numStage      int
	cyclePerStage int
	sink          Sink[T]
}

// MakeBuilder creates a default builder.
func MakeBuilder[T any]() Builder[T] {
	return Builder[T]{
		width:         1,
		numStage:      5,
		cyclePerStage: 1,
	}
}

// WithPipelineWidth sets the number of lanes in the pipeline. If width=4,
// 4 elements can be in the same stage at the same time.
func (b Builder[T]) WithPipelineWidth(n int) Builder[T] {
	b.width = n
	return b
}

// WithNumStage sets the number of pipeline stages.
func (b Builder[T]) WithNumStage(n int) Builder[T] {
	b.numStage = n
	return b
}

// WithCyclePerStage sets the number of cycles that each element needs to
// stay in each stage.
func (b Builder[T]) WithCyclePerStage(n int) Builder[T] {
	b.cyclePerStage = n
	return b
}

// WithSink sets where the elements go after passing through the pipeline.
func (b Builder[T]) WithSink(s Sink[T]) Builder[T] {
	b.sink = s
	return b
}

// Build builds a pipeline.
func (b Builder[T]) Build(name string) *Pipeline[T] {
	naming.NameMustBeValid(name)

	if b.sink == nil {
		log.Panicf("pipeline %s: no sink", name)
	}

	if b.width < 1 || b.numStage < 0 || b.cyclePerStage < 1 {
		log.Panicf("pipeline %s: width %d, %d stages, %d cycles per stage",
			name, b.width, b.numStage, b.cyclePerStage)
	}

	p := &Pipeline[T]{
		name:          name,
		width:         b.width,
		numStage:      b.numStage,
		cyclePerStage: b.cyclePerStage,
		sink:          b.sink,
	}

	p.Clear()

	return p
}
