package naming

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Name", func() {
	It("should parse hierarchical names", func() {
		n := ParseName("Core[0].Fetch[1][2]")

		Expect(n.Tokens).To(HaveLen(2))
		Expect(n.Tokens[0].ElemName).To(Equal("Core"))
		Expect(n.Tokens[0].Index).To(Equal([]int{0}))
		Expect(n.Tokens[1].ElemName).To(Equal("Fetch"))
		Expect(n.Tokens[1].Index).To(Equal([]int{1, 2}))
	})

	It("should accept lower case domain names", func() {
		Expect(func() { NameMustBeValid("core") }).NotTo(Panic())
		Expect(func() { NameMustBeValid("uncore.ring[3]") }).NotTo(Panic())
	})

	DescribeTable("invalid names",
		func(name string) {
			Expect(func() { NameMustBeValid(name) }).To(Panic())
		},
		Entry("empty", ""),
		Entry("trailing dot", "A.B."),
		Entry("empty element", "A..B"),
		Entry("space", "A B"),
		Entry("quote", "A\"B"),
		Entry("unmatched bracket", "A[0"),
		Entry("non-integer index", "A[x]"),
	)

	It("should build names", func() {
		Expect(BuildName("", "Core")).To(Equal("Core"))
		Expect(BuildName("Chip", "Core")).To(Equal("Chip.Core"))
		Expect(BuildNameWithIndex("Chip", "Core", 3)).To(Equal("Chip.Core[3]"))
	})

	It("should create a named base", func() {
		b := MakeNamedBase("Chip.Core")
		Expect(b.Name()).To(Equal("Chip.Core"))
	})
})
