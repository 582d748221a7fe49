// Package pipe provides small clocked models that move items between clock
// domains. Producers send items, stages delay them, consumers receive them
// and counters only count cycles.
package pipe

import (
	"github.com/sarchlab/clocksim/pipelining"
	"github.com/sarchlab/clocksim/sim/clocking"
	"github.com/sarchlab/clocksim/sim/timing"
)

// An Item is what producers send to consumers.
type Item struct {
	Seq    uint64
	SentAt timing.VTimeInFs
}

// A Link carries items between two models.
type Link = clocking.RateMatcher[Item]

type hasChildren struct {
	children []clocking.Clockable
}

func (h *hasChildren) AddChild(c clocking.Clockable) {
	h.children = append(h.children, c)
}

func (h *hasChildren) clockChildren(cycle uint64) {
	for _, c := range h.children {
		c.Clock(cycle)
	}
}

// A Counter counts the cycles it sees.
type Counter struct {
	*clocking.ClockableBase
	hasChildren

	Count     uint64
	LastCycle uint64
}

// NewCounter creates a counter. The parent may be nil.
func NewCounter(name string, parent clocking.Clockable) *Counter {
	return &Counter{
		ClockableBase: clocking.NewClockableBase(name, parent),
	}
}

// Clock counts one cycle.
func (c *Counter) Clock(cycle uint64) {
	c.Count++
	c.LastCycle = cycle

	clocking.EmitEvent(c, "count", c.Count)

	c.clockChildren(cycle)
}

// DralEventsTurnedOn dumps the count so that a trace started late has a
// starting point.
func (c *Counter) DralEventsTurnedOn() {
	clocking.EmitEvent(c, "state", c.Count)
}

// A Producer writes one item per cycle to each of its output links. An item
// that does not fit is retried in the next cycle.
type Producer struct {
	*clocking.ClockableBase
	hasChildren

	Outs []*Link

	nextSeq []uint64
	Sent    uint64
	Stalled uint64
}

// NewProducer creates a producer. The parent may be nil.
func NewProducer(name string, parent clocking.Clockable) *Producer {
	return &Producer{
		ClockableBase: clocking.NewClockableBase(name, parent),
	}
}

// AddOutput adds a link the producer writes to.
func (p *Producer) AddOutput(l *Link) {
	p.Outs = append(p.Outs, l)
	p.nextSeq = append(p.nextSeq, 0)
}

// Clock sends one item on every output.
func (p *Producer) Clock(cycle uint64) {
	now := p.GetClockingThread().Now()

	for i, out := range p.Outs {
		item := Item{Seq: p.nextSeq[i], SentAt: now}

		if !out.Write(item) {
			p.Stalled++
			clocking.EmitEvent(p, "stall", out.Name())

			continue
		}

		p.nextSeq[i]++
		p.Sent++
		clocking.EmitEvent(p, "send", item.Seq)
	}

	p.clockChildren(cycle)
}

// A Consumer reads at most one item per cycle from each of its input links.
type Consumer struct {
	*clocking.ClockableBase
	hasChildren

	Ins []*Link

	Received     uint64
	OutOfOrder   uint64
	TotalLatency timing.VTimeInFs

	expected []uint64
}

// NewConsumer creates a consumer. The parent may be nil.
func NewConsumer(name string, parent clocking.Clockable) *Consumer {
	return &Consumer{
		ClockableBase: clocking.NewClockableBase(name, parent),
	}
}

// AddInput adds a link the consumer reads from.
func (c *Consumer) AddInput(l *Link) {
	c.Ins = append(c.Ins, l)
	c.expected = append(c.expected, 0)
}

// Clock takes one item from every input that has one.
func (c *Consumer) Clock(cycle uint64) {
	now := c.GetClockingThread().Now()

	for i, in := range c.Ins {
		item, ok := in.Read()
		if !ok {
			continue
		}

		if item.Seq != c.expected[i] {
			c.OutOfOrder++
		}

		c.expected[i] = item.Seq + 1
		c.Received++
		c.TotalLatency += now - item.SentAt

		clocking.EmitEvent(c, "recv", item.Seq)
	}

	c.clockChildren(cycle)
}

// AvgLatency returns the average time between sending and receiving an item.
func (c *Consumer) AvgLatency() timing.VTimeInFs {
	if c.Received == 0 {
		return 0
	}

	return c.TotalLatency / timing.VTimeInFs(c.Received)
}

// A Stage forwards items from one link to another through a fixed-latency
// pipeline clocked by its own domain.
type Stage struct {
	*clocking.ClockableBase
	hasChildren

	In  *Link
	Out *Link

	pipeline *pipelining.Pipeline[Item]
	outBuf   *pipelining.Buffer[Item]

	Accepted  uint64
	Forwarded uint64
	Stalled   uint64
}

// NewStage creates a stage with the given pipeline depth. The parent may be
// nil.
func NewStage(
	name string,
	parent clocking.Clockable,
	numStage, cyclePerStage int,
) *Stage {
	s := &Stage{
		ClockableBase: clocking.NewClockableBase(name, parent),
		outBuf:        pipelining.NewBuffer[Item](name+".OutBuf", 2),
	}

	s.pipeline = pipelining.MakeBuilder[Item]().
		WithNumStage(numStage).
		WithCyclePerStage(cyclePerStage).
		WithSink(s.outBuf).
		Build(name + ".Pipeline")

	return s
}

// AddInput sets the link the stage reads from.
func (s *Stage) AddInput(l *Link) {
	s.In = l
}

// AddOutput sets the link the stage writes to.
func (s *Stage) AddOutput(l *Link) {
	s.Out = l
}

// InFlight returns the number of items the stage holds.
func (s *Stage) InFlight() int {
	return s.pipeline.Len() + s.outBuf.Size()
}

// Clock sends the oldest finished item, advances the pipeline and takes a new
// item if the first pipeline stage is free.
func (s *Stage) Clock(cycle uint64) {
	s.send()
	s.pipeline.Tick()
	s.accept()

	s.clockChildren(cycle)
}

func (s *Stage) send() {
	item, ok := s.outBuf.Peek()
	if !ok || s.Out == nil {
		return
	}

	if !s.Out.Write(item) {
		s.Stalled++
		clocking.EmitEvent(s, "stall", s.Out.Name())

		return
	}

	s.outBuf.Pop()
	s.Forwarded++
	clocking.EmitEvent(s, "forward", item.Seq)
}

func (s *Stage) accept() {
	if s.In == nil || !s.pipeline.CanAccept() {
		return
	}

	item, ok := s.In.Read()
	if !ok {
		return
	}

	s.pipeline.Accept(item)
	s.Accepted++
	clocking.EmitEvent(s, "accept", item.Seq)
}
