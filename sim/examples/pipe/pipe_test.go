package pipe

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/clocksim/config"
	"github.com/sarchlab/clocksim/sim/clocking"
	"github.com/sarchlab/clocksim/sim/timing"
	"github.com/sarchlab/clocksim/tracing"
)

const sameThread = `
domains:
  - name: core
    freqs_ghz: [2, 1]
  - name: uncore
    freqs_ghz: [0.5]
clockables:
  - name: core.counter
    kind: counter
    domain: core
  - name: core.producer
    kind: producer
    domain: core
    freq_ghz: 1
  - name: uncore.consumer
    kind: consumer
    domain: uncore
    skew: 10
    edge: low
  - name: uncore.consumer.tap
    kind: counter
    parent: uncore.consumer
rate_matchers:
  - name: link
    writer: core.producer
    reader: uncore.consumer
run:
  domain: core
  base_cycles: 100
`

const twoThreads = `
threads: [io]
domains:
  - name: core
    freqs_ghz: [1]
  - name: uncore
    freqs_ghz: [0.25]
    thread: io
clockables:
  - name: core.producer
    kind: producer
    domain: core
  - name: uncore.consumer
    kind: consumer
    domain: uncore
rate_matchers:
  - name: link
    writer: core.producer
    reader: uncore.consumer
run:
  domain: core
  base_cycles: 200
`

const freqChange = `
domains:
  - name: core
    freqs_ghz: [1]
clockables:
  - name: core.counter
    kind: counter
    domain: core
freq_changes:
  - domain: core
    after_base_cycles: 5
    freq_ghz: 2
run:
  domain: core
  base_cycles: 10
`

const chain = `
domains:
  - name: core
    freqs_ghz: [1]
clockables:
  - name: core.producer
    kind: producer
    domain: core
  - name: core.stage
    kind: stage
    domain: core
    stages: 3
  - name: core.consumer
    kind: consumer
    domain: core
rate_matchers:
  - name: to_stage
    writer: core.producer
    reader: core.stage
  - name: from_stage
    writer: core.stage
    reader: core.consumer
run:
  domain: core
  base_cycles: 20
`

func build(topology string) (*config.Topology, *Model, error) {
	t, err := config.Parse(strings.NewReader(topology))
	Expect(err).NotTo(HaveOccurred())

	s := clocking.NewServer()
	m, err := MakeBuilder().WithServer(s).Build(t)

	return t, m, err
}

var _ = Describe("Pipe", func() {
	It("should need a server", func() {
		t, err := config.Parse(strings.NewReader(freqChange))
		Expect(err).NotTo(HaveOccurred())

		_, err = MakeBuilder().Build(t)

		Expect(err).To(HaveOccurred())
	})

	It("should move items across domains on one thread", func() {
		t, m, err := build(sameThread)
		Expect(err).NotTo(HaveOccurred())

		m.Run(t, nil, nil)

		counter := m.Clockables["core.counter"].(*Counter)
		producer := m.Clockables["core.producer"].(*Producer)
		consumer := m.Clockables["uncore.consumer"].(*Consumer)
		tap := m.Clockables["uncore.consumer.tap"].(*Counter)

		Expect(counter.Count).To(Equal(uint64(100)))
		Expect(producer.Sent).To(Equal(uint64(50)))
		Expect(producer.Stalled).To(BeZero())
		Expect(consumer.Received).To(Equal(uint64(24)))
		Expect(consumer.OutOfOrder).To(BeZero())
		Expect(tap.Count).To(Equal(uint64(25)))
		Expect(m.Links[0].Len()).To(Equal(26))
		Expect(m.LinkLevels()).To(Equal([]string{"link: 26"}))
	})

	It("should report every clockable", func() {
		t, m, err := build(sameThread)
		Expect(err).NotTo(HaveOccurred())

		m.Run(t, nil, nil)

		report := m.Report()
		Expect(report).To(HaveLen(4))
		Expect(report[0]).To(Equal("core.counter: count=100"))
		Expect(report[1]).To(Equal("core.producer: sent=50 stalled=0"))
		Expect(report[2]).To(HavePrefix(
			"uncore.consumer: received=24 out_of_order=0"))
		Expect(report[3]).To(Equal("uncore.consumer.tap: count=25"))
	})

	It("should keep order across threads", func() {
		t, m, err := build(twoThreads)
		Expect(err).NotTo(HaveOccurred())

		m.Run(t, nil, nil)

		producer := m.Producers[0]
		consumer := m.Consumers[0]

		Expect(producer.Sent).To(Equal(uint64(200)))
		Expect(consumer.Received).To(BeNumerically(">", 0))
		Expect(consumer.Received).To(BeNumerically("<=", 50))
		Expect(consumer.OutOfOrder).To(BeZero())
		Expect(consumer.Received + uint64(m.Links[0].Len())).
			To(Equal(producer.Sent))
	})

	It("should give the same result on every run", func() {
		var received []uint64

		for i := 0; i < 3; i++ {
			t, m, err := build(twoThreads)
			Expect(err).NotTo(HaveOccurred())

			m.Run(t, nil, nil)
			received = append(received, m.Consumers[0].Received)
		}

		Expect(received[1]).To(Equal(received[0]))
		Expect(received[2]).To(Equal(received[0]))
	})

	It("should apply frequency changes", func() {
		t, m, err := build(freqChange)
		Expect(err).NotTo(HaveOccurred())

		var progress []uint64
		m.Run(t, nil, func(done uint64) { progress = append(progress, done) })

		Expect(progress).To(Equal([]uint64{5, 10}))
		Expect(m.Counters[0].Count).To(Equal(uint64(10)))
		Expect(m.Server.Now()).To(BeEquivalentTo(7_500_000))
		Expect(m.Server.Domain("core").ReferenceFreq().InGHz()).
			To(BeNumerically("~", 2, 1e-9))
	})

	It("should trace what the models emit", func() {
		t, m, err := build(sameThread)
		Expect(err).NotTo(HaveOccurred())

		counter := tracing.NewTickCountTracer()
		tracing.CollectTrace(m.Server, counter, false)

		m.Server.TurnOnDralEvents()
		m.Run(t, nil, nil)

		Expect(counter.Count("core.counter", tracing.KindDral)).
			To(Equal(uint64(101)))
		Expect(counter.Count("uncore.consumer.tap", tracing.KindDral)).
			To(Equal(uint64(26)))
		Expect(counter.Count("uncore.consumer", tracing.KindDral)).
			To(Equal(uint64(24)))
	})

	It("should delay items through a stage", func() {
		t, m, err := build(chain)
		Expect(err).NotTo(HaveOccurred())

		m.Run(t, nil, nil)

		producer := m.Producers[0]
		stage := m.Stages[0]
		consumer := m.Consumers[0]
		toStage, fromStage := m.Links[0], m.Links[1]

		Expect(producer.Sent).To(Equal(uint64(20)))
		Expect(consumer.Received).To(BeNumerically(">", 0))
		Expect(consumer.OutOfOrder).To(BeZero())
		Expect(consumer.AvgLatency()).
			To(BeNumerically(">=", 3*timing.VTimeInFs(1_000_000)))

		Expect(producer.Sent).
			To(Equal(stage.Accepted + uint64(toStage.Len())))
		Expect(stage.Accepted).
			To(Equal(stage.Forwarded + uint64(stage.InFlight())))
		Expect(stage.Forwarded).
			To(Equal(consumer.Received + uint64(fromStage.Len())))

		Expect(m.Report()[1]).To(HavePrefix("core.stage: forwarded="))
	})

	It("should give a stage only one input", func() {
		twoInputs := strings.Replace(chain, "rate_matchers:", `rate_matchers:
  - name: extra
    writer: core.producer
    reader: core.stage`, 1)

		_, _, err := build(twoInputs)

		Expect(err).To(MatchError(ContainSubstring("already has an input")))
	})

	DescribeTable("should reject models that cannot be built",
		func(from, to, msg string) {
			_, _, err := build(strings.Replace(sameThread, from, to, 1))

			Expect(err).To(MatchError(ContainSubstring(msg)))
		},
		Entry("unknown kind", "kind: counter", "kind: cache",
			`unknown kind "cache"`),
		Entry("writer cannot send", "writer: core.producer",
			"writer: core.counter", "cannot send"),
		Entry("reader cannot receive", "reader: uncore.consumer",
			"reader: core.producer", "cannot receive"),
	)
})

var _ = Describe("Example topology", func() {
	It("should build and run", func() {
		t, err := config.Load("pipe.yaml")
		Expect(err).NotTo(HaveOccurred())

		m, err := MakeBuilder().WithServer(clocking.NewServer()).Build(t)
		Expect(err).NotTo(HaveOccurred())

		m.Run(t, nil, nil)

		Expect(m.Counters[0].Count).To(Equal(uint64(1000)))
		Expect(m.Consumers[0].Received).To(BeNumerically(">", 0))
		Expect(m.Consumers[0].OutOfOrder).To(BeZero())
		Expect(m.Server.Domain("core").BaseFreq().InGHz()).
			To(BeNumerically("~", 1.5, 1e-9))
	})
})
