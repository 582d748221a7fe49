package pipelining

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/clocksim/sim/hooking"
)

type hookRecord struct {
	pos  []*hooking.HookPos
	item []any
}

func (r *hookRecord) Func(ctx hooking.HookCtx) {
	r.pos = append(r.pos, ctx.Pos)
	r.item = append(r.item, ctx.Item)
}

var _ = Describe("Pipeline", func() {
	var (
		sink     *Buffer[int]
		pipeline *Pipeline[int]
	)

	head := func() int {
		e, _ := sink.Peek()
		return e
	}

	BeforeEach(func() {
		sink = NewBuffer[int]("Sink", 1)
		pipeline = MakeBuilder[int]().
			WithPipelineWidth(1).
			WithNumStage(100).
			WithCyclePerStage(2).
			WithSink(sink).
			Build("Pipeline")
	})

	It("should process items in pipeline", func() {
		Expect(pipeline.CanAccept()).To(BeTrue())

		pipeline.Accept(1)
		Expect(pipeline.CanAccept()).To(BeFalse())

		Expect(pipeline.Tick()).To(BeTrue())
		Expect(pipeline.CanAccept()).To(BeFalse())

		Expect(pipeline.Tick()).To(BeTrue())
		Expect(pipeline.CanAccept()).To(BeTrue())
		pipeline.Accept(2)
		Expect(pipeline.Len()).To(Equal(2))

		for i := 2; i < 199; i++ {
			Expect(pipeline.Tick()).To(BeTrue())
		}

		Expect(sink.Size()).To(BeZero())

		Expect(pipeline.Tick()).To(BeTrue())
		Expect(head()).To(Equal(1))

		Expect(pipeline.Tick()).To(BeTrue())

		Expect(pipeline.Tick()).To(BeFalse())

		sink.Pop()
		Expect(pipeline.Tick()).To(BeTrue())
		Expect(head()).To(Equal(2))

		Expect(pipeline.Tick()).To(BeFalse())
		Expect(pipeline.Len()).To(BeZero())
	})

	It("should panic when accepting into a busy first stage", func() {
		pipeline.Accept(1)

		Expect(func() { pipeline.Accept(2) }).To(Panic())
	})

	It("should discard everything on clear", func() {
		pipeline.Accept(1)
		pipeline.Clear()

		Expect(pipeline.Len()).To(BeZero())
		Expect(pipeline.CanAccept()).To(BeTrue())
	})

	It("should invoke hooks when items enter and leave", func() {
		short := MakeBuilder[int]().
			WithNumStage(1).
			WithSink(sink).
			Build("Short")
		rec := &hookRecord{}
		short.AcceptHook(rec)

		short.Accept(7)
		short.Tick()

		Expect(rec.pos).To(Equal([]*hooking.HookPos{
			HookPosPipelineAccept, HookPosPipelineLeave,
		}))
		Expect(rec.item).To(Equal([]any{7, 7}))
	})
})

var _ = Describe("Wide Pipeline", func() {
	It("should accept one item per lane", func() {
		sink := NewBuffer[int]("Sink", 4)
		pipeline := MakeBuilder[int]().
			WithPipelineWidth(2).
			WithNumStage(2).
			WithSink(sink).
			Build("Pipeline")

		pipeline.Accept(1)
		Expect(pipeline.CanAccept()).To(BeTrue())
		pipeline.Accept(2)
		Expect(pipeline.CanAccept()).To(BeFalse())

		pipeline.Tick()
		pipeline.Tick()

		Expect(sink.Size()).To(Equal(2))
	})
})

var _ = Describe("Zero-Stage Pipeline", func() {
	var (
		sink     *Buffer[int]
		pipeline *Pipeline[int]
	)

	BeforeEach(func() {
		sink = NewBuffer[int]("Sink", 1)
		pipeline = MakeBuilder[int]().
			WithPipelineWidth(1).
			WithNumStage(0).
			WithCyclePerStage(2).
			WithSink(sink).
			Build("Pipeline")
	})

	It("should not accept if the sink is full", func() {
		sink.Push(0)

		Expect(pipeline.CanAccept()).To(BeFalse())
	})

	It("should forward to the sink directly", func() {
		Expect(pipeline.CanAccept()).To(BeTrue())

		pipeline.Accept(1)

		e, ok := sink.Peek()
		Expect(ok).To(BeTrue())
		Expect(e).To(Equal(1))
	})
})

var _ = Describe("Builder", func() {
	It("should need a sink", func() {
		Expect(func() { MakeBuilder[int]().Build("Pipeline") }).To(Panic())
	})

	It("should reject zero cycles per stage", func() {
		Expect(func() {
			MakeBuilder[int]().
				WithCyclePerStage(0).
				WithSink(NewBuffer[int]("Sink", 1)).
				Build("Pipeline")
		}).To(Panic())
	})
})
