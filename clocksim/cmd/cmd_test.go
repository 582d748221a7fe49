package cmd

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const exampleTopology = "../../sim/examples/pipe/pipe.yaml"

var _ = Describe("Commands", func() {
	var (
		dir string
		out *bytes.Buffer
	)

	execute := func(args ...string) error {
		root := NewRootCmd()
		root.SetOut(out)
		root.SetErr(out)
		root.SetArgs(args)

		return root.Execute()
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		out = &bytes.Buffer{}
	})

	It("should validate a topology", func() {
		err := execute("validate", "-c", exampleTopology)

		Expect(err).NotTo(HaveOccurred())
		Expect(out.String()).To(ContainSubstring(
			"is valid: 2 threads, 2 domains, 4 clockables, 1 rate matchers"))
		Expect(out.String()).To(ContainSubstring("uncore thread=io"))
	})

	It("should report invalid topologies", func() {
		path := filepath.Join(dir, "bad.yaml")
		Expect(os.WriteFile(path, []byte("run:\n  domain: core\n"), 0o644)).
			To(Succeed())

		err := execute("validate", "-c", path)

		Expect(err).To(MatchError(ContainSubstring(`unknown domain "core"`)))
	})

	It("should require a topology", func() {
		Expect(execute("run")).To(HaveOccurred())
	})

	It("should run a topology and record the results", func() {
		output := filepath.Join(dir, "run")

		err := execute("run", "-c", exampleTopology,
			"--env", filepath.Join(dir, "none.env"),
			"-o", output, "-n", "600", "--trace", "--profile")

		Expect(err).NotTo(HaveOccurred())
		Expect(out.String()).To(ContainSubstring("core.counter: count=600"))
		Expect(out.String()).To(ContainSubstring("In flight:"))
		Expect(out.String()).To(ContainSubstring("Profile:"))
		Expect(output + ".sqlite3").To(BeAnExistingFile())
	})

	It("should report the results recorded by a run", func() {
		output := filepath.Join(dir, "run")
		Expect(execute("run", "-c", exampleTopology,
			"--env", filepath.Join(dir, "none.env"),
			"-o", output)).To(Succeed())

		out.Reset()
		err := execute("report", "-d", output+".sqlite3")

		Expect(err).NotTo(HaveOccurred())
		Expect(out.String()).To(ContainSubstring("Topology: " + exampleTopology))
		Expect(out.String()).To(ContainSubstring(
			"core: 2 GHz -> 1.5 GHz at base cycle 500"))
		Expect(out.String()).To(MatchRegexp(
			`core\.counter\s+core\s+main\s`))
		Expect(out.String()).To(MatchRegexp(`uncore\.consumer\s+uncore\s+io\s`))
	})

	It("should refuse to report a missing database", func() {
		err := execute("report", "-d", filepath.Join(dir, "missing"))

		Expect(err).To(MatchError(ContainSubstring("cannot open")))
	})

	It("should reject a run shorter than its frequency changes", func() {
		err := execute("run", "-c", exampleTopology,
			"--env", filepath.Join(dir, "none.env"),
			"-o", filepath.Join(dir, "short"), "-n", "100")

		Expect(err).To(MatchError(ContainSubstring("--base-cycles")))
	})
})
