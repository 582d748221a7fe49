package config

import (
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/clocksim/sim/clocking"
)

const pipeTopology = `
threads: [io]
domains:
  - name: core
    freqs_ghz: [2, 1]
  - name: uncore
    freqs_ghz: [0.5]
    thread: io
clockables:
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
freq_changes:
  - domain: uncore
    after_base_cycles: 80
    freq_ghz: 1
  - domain: core
    after_base_cycles: 40
    freq_ghz: 3
run:
  domain: core
  base_cycles: 100
`

func parse(s string) (*Topology, error) {
	return Parse(strings.NewReader(s))
}

var _ = Describe("Topology", func() {
	It("should parse a topology", func() {
		t, err := parse(pipeTopology)

		Expect(err).NotTo(HaveOccurred())
		Expect(t.Threads).To(Equal([]string{"io"}))
		Expect(t.Domains).To(HaveLen(2))
		Expect(t.Domains[0].FreqsGHz).To(Equal([]float64{2, 1}))
		Expect(t.Clockables[1].Skew).To(Equal(uint32(10)))
		Expect(t.Clockables[2].Parent).To(Equal("uncore.consumer"))
		Expect(t.RateMatchers[0].Reader).To(Equal("uncore.consumer"))
		Expect(t.Run.BaseCycles).To(Equal(uint64(100)))
	})

	It("should sort frequency changes", func() {
		t, err := parse(pipeTopology)
		Expect(err).NotTo(HaveOccurred())

		changes := t.SortedFreqChanges()

		Expect(changes[0].Domain).To(Equal("core"))
		Expect(changes[1].Domain).To(Equal("uncore"))
		Expect(t.FreqChanges[0].Domain).To(Equal("uncore"))
	})

	It("should load from a file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "pipe.yaml")
		Expect(os.WriteFile(path, []byte(pipeTopology), 0o644)).To(Succeed())

		t, err := Load(path)

		Expect(err).NotTo(HaveOccurred())
		Expect(t.Run.Domain).To(Equal("core"))
	})

	It("should report missing files", func() {
		_, err := Load(filepath.Join(GinkgoT().TempDir(), "none.yaml"))

		Expect(err).To(MatchError(ContainSubstring("failed to open topology")))
	})

	It("should reject unknown fields", func() {
		_, err := parse("domainz: []\n")

		Expect(err).To(MatchError(ContainSubstring("failed to decode")))
	})

	DescribeTable("should reject invalid topologies",
		func(from, to, msg string) {
			_, err := parse(strings.Replace(pipeTopology, from, to, 1))

			Expect(err).To(MatchError(ContainSubstring(msg)))
		},
		Entry("duplicate thread", "threads: [io]", "threads: [io, io]",
			`thread "io" is defined twice`),
		Entry("redefined default thread", "threads: [io]",
			"threads: [io, main]", `thread "main" is defined twice`),
		Entry("empty frequency list", "freqs_ghz: [0.5]", "freqs_ghz: []",
			`domain "uncore" has no frequency`),
		Entry("zero frequency", "freqs_ghz: [0.5]", "freqs_ghz: [0]",
			"invalid frequency 0 GHz"),
		Entry("unknown domain thread", "thread: io", "thread: gpu",
			`unknown thread "gpu"`),
		Entry("unknown clockable domain", "domain: uncore\n    skew",
			"domain: dram\n    skew", `unknown domain "dram"`),
		Entry("large skew", "skew: 10", "skew: 51", "skew 51 is above 50"),
		Entry("bad edge", "edge: low", "edge: middle", `unknown edge "middle"`),
		Entry("undeclared frequency", "freq_ghz: 1\n  - name: uncore",
			"freq_ghz: 4\n  - name: uncore", "has no 4 GHz frequency"),
		Entry("invalid name", "name: core.producer", "name: core..producer",
			`invalid clockable name "core..producer"`),
		Entry("unknown rate matcher end", "writer: core.producer",
			"writer: core.fetch", `unknown clockable "core.fetch"`),
		Entry("unknown run domain", "domain: core\n  base_cycles",
			"domain: gpu\n  base_cycles", `run: unknown domain "gpu"`),
		Entry("orphan sub-block", "parent: uncore.consumer", "parent: \"\"",
			"has neither a domain nor a parent"),
		Entry("unknown parent", "parent: uncore.consumer",
			"parent: uncore.producer", `unknown parent "uncore.producer"`),
		Entry("nested sub-block", "parent: uncore.consumer",
			"parent: uncore.consumer.tap", "is not clocked"),
		Entry("negative stages", "kind: producer", "kind: stage\n    stages: -1",
			"cannot be negative"),
		Entry("late frequency change", "after_base_cycles: 80",
			"after_base_cycles: 180", "is past the run"),
	)

	It("should parse edges", func() {
		e, err := ParseEdge("LOW")
		Expect(err).NotTo(HaveOccurred())
		Expect(e).To(Equal(clocking.EdgeLow))

		e, err = ParseEdge("")
		Expect(err).NotTo(HaveOccurred())
		Expect(e).To(Equal(clocking.EdgeHigh))
	})
})

var _ = Describe("Env", func() {
	setenv := func(key, value string) {
		old, had := os.LookupEnv(key)
		Expect(os.Setenv(key, value)).To(Succeed())

		DeferCleanup(func() {
			if had {
				os.Setenv(key, old)
			} else {
				os.Unsetenv(key)
			}
		})
	}

	unset := func(keys ...string) {
		for _, key := range keys {
			old, had := os.LookupEnv(key)
			os.Unsetenv(key)

			if had {
				DeferCleanup(os.Setenv, key, old)
			}
		}
	}

	BeforeEach(func() {
		unset(EnvMonitorPort, EnvRecordPath, EnvParallelIDs)
	})

	It("should default to zero values", func() {
		env, err := ReadEnv()

		Expect(err).NotTo(HaveOccurred())
		Expect(env).To(Equal(Env{}))
	})

	It("should read the process environment", func() {
		setenv(EnvMonitorPort, "8080")
		setenv(EnvRecordPath, "out/run1")
		setenv(EnvParallelIDs, "true")

		env, err := ReadEnv()

		Expect(err).NotTo(HaveOccurred())
		Expect(env).To(Equal(Env{
			MonitorPort: 8080,
			RecordPath:  "out/run1",
			ParallelIDs: true,
		}))
	})

	It("should reject bad values", func() {
		setenv(EnvMonitorPort, "http")
		_, err := ReadEnv()
		Expect(err).To(HaveOccurred())

		setenv(EnvMonitorPort, "70000")
		_, err = ReadEnv()
		Expect(err).To(MatchError(ContainSubstring("out of range")))

		setenv(EnvMonitorPort, "")
		setenv(EnvParallelIDs, "maybe")
		_, err = ReadEnv()
		Expect(err).To(MatchError(ContainSubstring(EnvParallelIDs)))
	})

	It("should load .env files without overriding the process", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, ".env")
		Expect(os.WriteFile(path, []byte(
			EnvRecordPath+"=from_file\n"+EnvMonitorPort+"=9000\n"),
			0o644)).To(Succeed())

		DeferCleanup(os.Unsetenv, EnvRecordPath)
		setenv(EnvMonitorPort, "9100")

		env, err := LoadEnv(path, filepath.Join(dir, "missing.env"))

		Expect(err).NotTo(HaveOccurred())
		Expect(env.RecordPath).To(Equal("from_file"))
		Expect(env.MonitorPort).To(Equal(9100))
	})
})
