package persistence_test

import (
	. "github.com/dogmatiq/harbor/persistence"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("type ConflictError", func() {
	Describe("func Error()", func() {
		It("includes the instance key and revision", func() {
			err := ConflictError{
				Key:      "<key>",
				Revision: 3,
			}

			Expect(err).To(MatchError("optimistic concurrency conflict saving instance <key> at revision 3"))
		})
	})
})
