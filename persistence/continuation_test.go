package persistence_test

import (
	. "github.com/dogmatiq/harbor/persistence"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("func HasContinuation()", func() {
	cs := []Continuation{{Name: "<a>"}, {Name: "<b>"}}

	It("returns true if the slice contains a continuation with the given name", func() {
		Expect(HasContinuation(cs, "<b>")).To(BeTrue())
	})

	It("returns false if the slice does not contain the continuation", func() {
		Expect(HasContinuation(cs, "<c>")).To(BeFalse())
		Expect(HasContinuation(nil, "<a>")).To(BeFalse())
	})
})

var _ = Describe("func AddedContinuations()", func() {
	It("returns the continuations that are not in the previous set", func() {
		added := AddedContinuations(
			[]Continuation{{Name: "<a>"}, {Name: "<b>"}},
			[]Continuation{{Name: "<b>"}, {Name: "<c>"}},
		)

		Expect(added).To(Equal([]Continuation{{Name: "<c>"}}))
	})

	It("returns nil if no continuations were added", func() {
		added := AddedContinuations(
			[]Continuation{{Name: "<a>"}},
			nil,
		)

		Expect(added).To(BeNil())
	})
})
