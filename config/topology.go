// Package config loads the description of a clocked model from YAML and the
// process settings from the environment.
package config

import (
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/sarchlab/clocksim/sim/clocking"
	"github.com/sarchlab/clocksim/sim/naming"
	"github.com/sarchlab/clocksim/sim/timing"
)

// A Topology describes the threads, domains, clockables and rate matchers of
// a model, and how long to run it.
type Topology struct {
	Threads      []string      `yaml:"threads"`
	Domains      []Domain      `yaml:"domains"`
	Clockables   []Clockable   `yaml:"clockables"`
	RateMatchers []RateMatcher `yaml:"rate_matchers"`
	FreqChanges  []FreqChange  `yaml:"freq_changes"`
	Run          Run           `yaml:"run"`
}

// Domain describes a clock domain. The first frequency is the reference.
type Domain struct {
	Name     string    `yaml:"name"`
	FreqsGHz []float64 `yaml:"freqs_ghz"`
	Thread   string    `yaml:"thread"`
}

// Clockable describes one instance of a model. A clockable without a domain
// is a sub-block that its parent clocks.
type Clockable struct {
	Name    string  `yaml:"name"`
	Kind    string  `yaml:"kind"`
	Domain  string  `yaml:"domain"`
	Skew    uint32  `yaml:"skew"`
	Edge    string  `yaml:"edge"`
	FreqGHz float64 `yaml:"freq_ghz"`
	Thread  string  `yaml:"thread"`
	Parent  string  `yaml:"parent"`

	// Stages and CyclesPerStage shape the pipeline of a stage clockable.
	Stages         int `yaml:"stages"`
	CyclesPerStage int `yaml:"cycles_per_stage"`
}

// RateMatcher connects two clockables.
type RateMatcher struct {
	Name   string `yaml:"name"`
	Writer string `yaml:"writer"`
	Reader string `yaml:"reader"`
}

// FreqChange sets the reference frequency of a domain once the run domain has
// run a number of base cycles.
type FreqChange struct {
	Domain          string  `yaml:"domain"`
	AfterBaseCycles uint64  `yaml:"after_base_cycles"`
	FreqGHz         float64 `yaml:"freq_ghz"`
}

// Run tells which domain measures the length of the run.
type Run struct {
	Domain     string `yaml:"domain"`
	BaseCycles uint64 `yaml:"base_cycles"`
}

// Load reads and validates a topology file.
func Load(path string) (*Topology, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open topology")
	}
	defer f.Close()

	t, err := Parse(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}

	return t, nil
}

// Parse decodes and validates a topology.
func Parse(r io.Reader) (*Topology, error) {
	t := &Topology{}

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	err := dec.Decode(t)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode topology")
	}

	err = t.Validate()
	if err != nil {
		return nil, err
	}

	return t, nil
}

// Validate checks everything the clock server would otherwise panic on.
func (t *Topology) Validate() error {
	threads := map[string]bool{clocking.DefaultThreadName: true}
	for _, name := range t.Threads {
		if err := validName("thread", name); err != nil {
			return err
		}

		if threads[name] {
			return errors.Errorf("thread %q is defined twice", name)
		}

		threads[name] = true
	}

	domains, err := t.validateDomains(threads)
	if err != nil {
		return err
	}

	clockables, err := t.validateClockables(threads, domains)
	if err != nil {
		return err
	}

	err = t.validateRateMatchers(clockables)
	if err != nil {
		return err
	}

	return t.validateRun(domains)
}

func (t *Topology) validateDomains(
	threads map[string]bool,
) (map[string]Domain, error) {
	domains := make(map[string]Domain)

	for _, d := range t.Domains {
		if err := validName("domain", d.Name); err != nil {
			return nil, err
		}

		if _, dup := domains[d.Name]; dup {
			return nil, errors.Errorf("domain %q is defined twice", d.Name)
		}

		if len(d.FreqsGHz) == 0 {
			return nil, errors.Errorf("domain %q has no frequency", d.Name)
		}

		for _, ghz := range d.FreqsGHz {
			if !GHz(ghz).IsValid() {
				return nil, errors.Errorf(
					"domain %q: invalid frequency %g GHz", d.Name, ghz)
			}
		}

		if d.Thread != "" && !threads[d.Thread] {
			return nil, errors.Errorf(
				"domain %q: unknown thread %q", d.Name, d.Thread)
		}

		domains[d.Name] = d
	}

	return domains, nil
}

func (t *Topology) validateClockables(
	threads map[string]bool,
	domains map[string]Domain,
) (map[string]Clockable, error) {
	clockables := make(map[string]Clockable)

	for _, c := range t.Clockables {
		if err := validName("clockable", c.Name); err != nil {
			return nil, err
		}

		if _, dup := clockables[c.Name]; dup {
			return nil, errors.Errorf("clockable %q is defined twice", c.Name)
		}

		clockables[c.Name] = c

		if c.Stages < 0 || c.CyclesPerStage < 0 {
			return nil, errors.Errorf(
				"clockable %q: stages and cycles per stage cannot be negative",
				c.Name)
		}

		if c.Domain == "" {
			if c.Parent == "" {
				return nil, errors.Errorf(
					"clockable %q has neither a domain nor a parent", c.Name)
			}

			continue
		}

		d, ok := domains[c.Domain]
		if !ok {
			return nil, errors.Errorf(
				"clockable %q: unknown domain %q", c.Name, c.Domain)
		}

		if c.Skew > clocking.MaxSkew {
			return nil, errors.Errorf("clockable %q: skew %d is above %d",
				c.Name, c.Skew, clocking.MaxSkew)
		}

		if _, err := ParseEdge(c.Edge); err != nil {
			return nil, errors.Wrapf(err, "clockable %q", c.Name)
		}

		if c.FreqGHz != 0 && !hasFreq(d, c.FreqGHz) {
			return nil, errors.Errorf(
				"clockable %q: domain %q has no %g GHz frequency",
				c.Name, c.Domain, c.FreqGHz)
		}

		if c.Thread != "" && !threads[c.Thread] {
			return nil, errors.Errorf(
				"clockable %q: unknown thread %q", c.Name, c.Thread)
		}
	}

	for _, c := range t.Clockables {
		if c.Parent == "" {
			continue
		}

		p, ok := clockables[c.Parent]
		if !ok {
			return nil, errors.Errorf(
				"clockable %q: unknown parent %q", c.Name, c.Parent)
		}

		if p.Domain == "" {
			return nil, errors.Errorf(
				"clockable %q: parent %q is not clocked", c.Name, c.Parent)
		}
	}

	return clockables, nil
}

func (t *Topology) validateRateMatchers(
	clockables map[string]Clockable,
) error {
	names := make(map[string]bool)

	for _, m := range t.RateMatchers {
		if err := validName("rate matcher", m.Name); err != nil {
			return err
		}

		if names[m.Name] {
			return errors.Errorf("rate matcher %q is defined twice", m.Name)
		}

		names[m.Name] = true

		for _, end := range []string{m.Writer, m.Reader} {
			if _, ok := clockables[end]; !ok {
				return errors.Errorf(
					"rate matcher %q: unknown clockable %q", m.Name, end)
			}
		}
	}

	return nil
}

func (t *Topology) validateRun(domains map[string]Domain) error {
	if _, ok := domains[t.Run.Domain]; !ok {
		return errors.Errorf("run: unknown domain %q", t.Run.Domain)
	}

	for _, c := range t.FreqChanges {
		if _, ok := domains[c.Domain]; !ok {
			return errors.Errorf("freq change: unknown domain %q", c.Domain)
		}

		if !GHz(c.FreqGHz).IsValid() {
			return errors.Errorf("freq change of %q: invalid frequency %g GHz",
				c.Domain, c.FreqGHz)
		}

		if c.AfterBaseCycles > t.Run.BaseCycles {
			return errors.Errorf(
				"freq change of %q after %d base cycles is past the run",
				c.Domain, c.AfterBaseCycles)
		}
	}

	return nil
}

// SortedFreqChanges returns the frequency changes ordered by when they apply.
// Changes at the same point keep their order in the file.
func (t *Topology) SortedFreqChanges() []FreqChange {
	changes := make([]FreqChange, len(t.FreqChanges))
	copy(changes, t.FreqChanges)

	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].AfterBaseCycles < changes[j].AfterBaseCycles
	})

	return changes
}

// GHz converts a frequency in GHz.
func GHz(v float64) timing.Freq {
	return timing.Freq(v) * timing.GHz
}

// ParseEdge converts "high", "low" or an empty string to an edge.
func ParseEdge(s string) (clocking.Edge, error) {
	switch strings.ToLower(s) {
	case "", "high":
		return clocking.EdgeHigh, nil
	case "low":
		return clocking.EdgeLow, nil
	default:
		return 0, errors.Errorf("unknown edge %q", s)
	}
}

func hasFreq(d Domain, ghz float64) bool {
	for _, f := range d.FreqsGHz {
		if GHz(f).InHz() == GHz(ghz).InHz() {
			return true
		}
	}

	return false
}

func validName(what, name string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("invalid %s name %q", what, name)
		}
	}()

	if name == "" {
		return errors.Errorf("%s without a name", what)
	}

	naming.NameMustBeValid(name)

	return nil
}
