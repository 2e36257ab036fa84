package transaction_test

import (
	"errors"

	"github.com/dogmatiq/harbor/fixtures"
	. "github.com/dogmatiq/harbor/transaction"
	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Error", func() {
	It("includes the transaction ID and cause in the message", func() {
		err := &Error{
			Transaction: "<tx>",
			Kind:        ErrAborted,
			Cause:       errors.New("<cause>"),
		}

		Expect(err).To(MatchError("<tx>: transaction aborted: <cause>"))
	})

	It("matches both the kind and the cause", func() {
		cause := errors.New("<cause>")
		err := &Error{Kind: ErrInDoubt, Cause: cause}

		Expect(errors.Is(err, ErrInDoubt)).To(BeTrue())
		Expect(errors.Is(err, cause)).To(BeTrue())
		Expect(errors.Is(err, ErrAborted)).To(BeFalse())
	})
})

var _ = Describe("func IsTransactionError()", func() {
	table.DescribeTable(
		"it returns true for transaction errors",
		func(err error) {
			Expect(IsTransactionError(err)).To(BeTrue())
		},
		table.Entry("aborted", ErrAborted),
		table.Entry("in-doubt", ErrInDoubt),
		table.Entry("not active", ErrNotActive),
		table.Entry("wait timeout", ErrWaitTimeout),
		table.Entry("*Error", &Error{Kind: ErrAborted}),
		table.Entry("wrapped", errWrap{ErrWaitTimeout}),
	)

	It("returns false for other errors", func() {
		Expect(IsTransactionError(errors.New("<error>"))).To(BeFalse())
		Expect(IsTransactionError(nil)).To(BeFalse())
	})
})

var _ = Describe("func ErrorFromStatus()", func() {
	table.DescribeTable(
		"it returns an error describing the outcome",
		func(status Status, kind error) {
			cause := errors.New("<cause>")
			tx := &fixtures.TransactionStub{
				StatusFunc: func() Status { return status },
				CauseFunc:  func() error { return cause },
			}

			err := ErrorFromStatus(tx)
			Expect(err).To(Equal(&Error{
				Transaction: "<tx>",
				Kind:        kind,
				Cause:       cause,
			}))
		},
		table.Entry("aborted", Aborted, ErrAborted),
		table.Entry("in-doubt", InDoubt, ErrInDoubt),
	)

	table.DescribeTable(
		"it returns nil if the transaction has not failed",
		func(status Status) {
			tx := &fixtures.TransactionStub{
				StatusFunc: func() Status { return status },
			}

			Expect(ErrorFromStatus(tx)).To(BeNil())
		},
		table.Entry("active", Active),
		table.Entry("committed", Committed),
	)
})

var _ = Describe("type Status", func() {
	Describe("func String()", func() {
		It("returns a human-readable description", func() {
			Expect(Active.String()).To(Equal("active"))
			Expect(InDoubt.String()).To(Equal("in-doubt"))
			Expect(Status(99).String()).To(Equal("status(99)"))
		})
	})
})

type errWrap struct {
	cause error
}

func (e errWrap) Error() string { return "wrapped: " + e.cause.Error() }
func (e errWrap) Unwrap() error { return e.cause }
