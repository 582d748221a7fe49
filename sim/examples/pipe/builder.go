package pipe

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/sarchlab/clocksim/config"
	"github.com/sarchlab/clocksim/sim/clocking"
	"github.com/sarchlab/clocksim/sim/timing"
)

// The kinds of models a topology can instantiate.
const (
	KindCounter  = "counter"
	KindProducer = "producer"
	KindConsumer = "consumer"
	KindStage    = "stage"
)

type parentOf interface {
	clocking.Clockable
	AddChild(c clocking.Clockable)
}

type writer interface {
	AddOutput(l *Link)
}

type reader interface {
	AddInput(l *Link)
}

// A Model is a topology built on a clock server.
type Model struct {
	Server     *clocking.Server
	Clockables map[string]clocking.Clockable
	Counters   []*Counter
	Producers  []*Producer
	Consumers  []*Consumer
	Stages     []*Stage
	Links      []*Link

	order []string
}

// Builder builds models from topologies.
type Builder struct {
	server *clocking.Server
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithServer sets the clock server the model registers with.
func (b Builder) WithServer(s *clocking.Server) Builder {
	b.server = s
	return b
}

// Build creates the threads, domains, clockables and links of a topology.
// The topology must be valid.
func (b Builder) Build(t *config.Topology) (*Model, error) {
	if b.server == nil {
		return nil, errors.New("pipe: no clock server")
	}

	m := &Model{
		Server:     b.server,
		Clockables: make(map[string]clocking.Clockable),
	}

	threads := b.buildThreads(t)
	b.buildDomains(t, threads)

	err := m.buildClockables(t)
	if err != nil {
		return nil, err
	}

	err = m.buildLinks(t)
	if err != nil {
		return nil, err
	}

	err = m.register(t, threads)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (b Builder) buildThreads(t *config.Topology) map[string]*clocking.Thread {
	threads := map[string]*clocking.Thread{
		clocking.DefaultThreadName: b.server.DefaultThread(),
	}

	for _, name := range t.Threads {
		threads[name] = b.server.NewThread(name)
	}

	return threads
}

func (b Builder) buildDomains(
	t *config.Topology,
	threads map[string]*clocking.Thread,
) {
	for _, d := range t.Domains {
		freqs := make([]timing.Freq, 0, len(d.FreqsGHz))
		for _, ghz := range d.FreqsGHz {
			freqs = append(freqs, config.GHz(ghz))
		}

		b.server.NewClockDomainOnThread(d.Name, threads[d.Thread], freqs...)
	}
}

func (m *Model) buildClockables(t *config.Topology) error {
	// Parents are clocked, so they never have a parent themselves.
	for _, pass := range []bool{false, true} {
		for _, c := range t.Clockables {
			if (c.Parent != "") != pass {
				continue
			}

			var parent clocking.Clockable
			if c.Parent != "" {
				parent = m.Clockables[c.Parent]
			}

			clockable, err := m.newClockable(c, parent)
			if err != nil {
				return err
			}

			if parent != nil {
				p, ok := parent.(parentOf)
				if !ok {
					return errors.Errorf("clockable %q cannot have children",
						c.Parent)
				}

				p.AddChild(clockable)
			}

			m.Clockables[c.Name] = clockable
			m.order = append(m.order, c.Name)
		}
	}

	return nil
}

func (m *Model) newClockable(
	c config.Clockable,
	parent clocking.Clockable,
) (clocking.Clockable, error) {
	switch c.Kind {
	case KindCounter:
		counter := NewCounter(c.Name, parent)
		m.Counters = append(m.Counters, counter)

		return counter, nil
	case KindProducer:
		producer := NewProducer(c.Name, parent)
		m.Producers = append(m.Producers, producer)

		return producer, nil
	case KindConsumer:
		consumer := NewConsumer(c.Name, parent)
		m.Consumers = append(m.Consumers, consumer)

		return consumer, nil
	case KindStage:
		cyclePerStage := c.CyclesPerStage
		if cyclePerStage == 0 {
			cyclePerStage = 1
		}

		stage := NewStage(c.Name, parent, c.Stages, cyclePerStage)
		m.Stages = append(m.Stages, stage)

		return stage, nil
	default:
		return nil, errors.Errorf("clockable %q: unknown kind %q",
			c.Name, c.Kind)
	}
}

func (m *Model) buildLinks(t *config.Topology) error {
	stageIns := make(map[string]bool)
	stageOuts := make(map[string]bool)

	for _, l := range t.RateMatchers {
		w, ok := m.Clockables[l.Writer].(writer)
		if !ok {
			return errors.Errorf("rate matcher %q: writer %q cannot send",
				l.Name, l.Writer)
		}

		r, ok := m.Clockables[l.Reader].(reader)
		if !ok {
			return errors.Errorf("rate matcher %q: reader %q cannot receive",
				l.Name, l.Reader)
		}

		if err := claimStagePort(m.Clockables[l.Writer], stageOuts,
			"output"); err != nil {
			return errors.Wrapf(err, "rate matcher %q", l.Name)
		}

		if err := claimStagePort(m.Clockables[l.Reader], stageIns,
			"input"); err != nil {
			return errors.Wrapf(err, "rate matcher %q", l.Name)
		}

		link := clocking.NewRateMatcher[Item](m.Server, l.Name,
			m.Clockables[l.Writer], m.Clockables[l.Reader])
		w.AddOutput(link)
		r.AddInput(link)
		m.Links = append(m.Links, link)
	}

	return nil
}

// A stage has exactly one input and one output.
func claimStagePort(
	c clocking.Clockable,
	claimed map[string]bool,
	port string,
) error {
	if _, ok := c.(*Stage); !ok {
		return nil
	}

	if claimed[c.Name()] {
		return errors.Errorf("stage %q already has an %s", c.Name(), port)
	}

	claimed[c.Name()] = true

	return nil
}

func (m *Model) register(
	t *config.Topology,
	threads map[string]*clocking.Thread,
) error {
	for _, c := range t.Clockables {
		if c.Domain == "" {
			continue
		}

		clockable := m.Clockables[c.Name]

		edge, err := config.ParseEdge(c.Edge)
		if err != nil {
			return errors.Wrapf(err, "clockable %q", c.Name)
		}

		var opts []clocking.RegisterOption
		if c.FreqGHz != 0 {
			opts = append(opts, clocking.AtFrequency(config.GHz(c.FreqGHz)))
		}

		if c.Thread != "" {
			opts = append(opts, clocking.WithThread(threads[c.Thread]))
		}

		cb := clockable.Clocking().NewCallback(clockable.Clock)
		m.Server.RegisterCallbackAtEdge(clockable, c.Domain, cb, c.Skew,
			edge, opts...)
	}

	// Sub-blocks reach the clock info of their parents.
	for _, name := range m.order {
		clockable := m.Clockables[name]
		if _, ok := clockable.(clocking.DralListener); ok {
			clocking.RegisterDralTurnOn(clockable)
		}
	}

	return nil
}

// A Runner advances simulated time by base cycles of a domain.
type Runner interface {
	RunBaseCycles(domain string, n uint64)
}

// Run runs the topology, applying frequency changes on the way. A nil runner
// runs the server directly. The progress function, if not nil, is called
// after each segment with the number of base cycles of the run domain done so
// far.
func (m *Model) Run(
	t *config.Topology,
	r Runner,
	progress func(done uint64),
) {
	if r == nil {
		r = m.Server
	}

	done := uint64(0)

	for _, c := range t.SortedFreqChanges() {
		if c.AfterBaseCycles > done {
			r.RunBaseCycles(t.Run.Domain, c.AfterBaseCycles-done)
			done = c.AfterBaseCycles

			if progress != nil {
				progress(done)
			}
		}

		m.Server.SetDomainFrequency(c.Domain, config.GHz(c.FreqGHz))
	}

	if t.Run.BaseCycles > done {
		r.RunBaseCycles(t.Run.Domain, t.Run.BaseCycles-done)

		if progress != nil {
			progress(t.Run.BaseCycles)
		}
	}
}

// Report returns one line per clockable, in topology order.
func (m *Model) Report() []string {
	lines := make([]string, 0, len(m.order))

	for _, name := range m.order {
		lines = append(lines, m.reportLine(name))
	}

	return lines
}

func (m *Model) reportLine(name string) string {
	switch c := m.Clockables[name].(type) {
	case *Counter:
		return fmt.Sprintf("%s: count=%d", name, c.Count)
	case *Producer:
		return fmt.Sprintf("%s: sent=%d stalled=%d", name, c.Sent, c.Stalled)
	case *Consumer:
		return fmt.Sprintf("%s: received=%d out_of_order=%d avg_latency=%.3fns",
			name, c.Received, c.OutOfOrder, float64(c.AvgLatency())/1e6)
	case *Stage:
		return fmt.Sprintf("%s: forwarded=%d stalled=%d in_flight=%d",
			name, c.Forwarded, c.Stalled, c.InFlight())
	default:
		return name
	}
}

// LinkLevels returns the number of items in flight per link, by name.
func (m *Model) LinkLevels() []string {
	lines := make([]string, 0, len(m.Links))
	for _, l := range m.Links {
		lines = append(lines, fmt.Sprintf("%s: %d", l.Name(), l.Len()))
	}

	sort.Strings(lines)

	return lines
}
