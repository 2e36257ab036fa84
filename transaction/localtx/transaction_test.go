package localtx_test

import (
	"context"
	"errors"
	"time"

	"github.com/dogmatiq/harbor/fixtures"
	"github.com/dogmatiq/harbor/transaction"
	. "github.com/dogmatiq/harbor/transaction/localtx"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// participantStub is a transaction.Participant that records the phases it was
// called for.
type participantStub struct {
	PrepareFunc func(context.Context, transaction.PreparingEnlistment) error
	NotifyFunc  func(phase string)

	phases []string
}

func (p *participantStub) notify(phase string) {
	p.phases = append(p.phases, phase)

	if p.NotifyFunc != nil {
		p.NotifyFunc(phase)
	}
}

func (p *participantStub) Prepare(ctx context.Context, e transaction.PreparingEnlistment) error {
	if p.PrepareFunc != nil {
		return p.PrepareFunc(ctx, e)
	}

	e.Prepared()
	return nil
}

func (p *participantStub) Commit(e transaction.Enlistment) {
	p.notify("commit")
	e.Done()
}

func (p *participantStub) Rollback(e transaction.Enlistment) {
	p.notify("rollback")
	e.Done()
}

func (p *participantStub) InDoubt(e transaction.Enlistment) {
	p.notify("in-doubt")
	e.Done()
}

var _ = Describe("type Transaction", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		tx     *Transaction
		p1, p2 *participantStub
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)

		tx = New()
		p1 = &participantStub{}
		p2 = &participantStub{}

		Expect(tx.EnlistVolatile(p1)).To(Succeed())
		Expect(tx.EnlistVolatile(p2)).To(Succeed())
	})

	AfterEach(func() {
		cancel()
	})

	Describe("func New()", func() {
		It("returns an active transaction with a unique ID", func() {
			Expect(tx.Status()).To(Equal(transaction.Active))
			Expect(tx.ID()).NotTo(BeEmpty())
			Expect(New().ID()).NotTo(Equal(tx.ID()))
		})
	})

	Describe("func Commit()", func() {
		It("commits the transaction when every participant votes to commit", func() {
			err := tx.Commit(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(tx.Status()).To(Equal(transaction.Committed))
			Expect(p1.phases).To(Equal([]string{"commit"}))
			Expect(p2.phases).To(Equal([]string{"commit"}))
		})

		It("aborts the transaction if a participant votes to roll back", func() {
			cause := errors.New("<cause>")
			p2.PrepareFunc = func(_ context.Context, e transaction.PreparingEnlistment) error {
				e.ForceRollback(cause)
				return nil
			}

			err := tx.Commit(ctx)
			Expect(errors.Is(err, transaction.ErrAborted)).To(BeTrue())
			Expect(errors.Is(err, cause)).To(BeTrue())
			Expect(tx.Status()).To(Equal(transaction.Aborted))
			Expect(tx.Cause()).To(Equal(cause))
			Expect(p1.phases).To(Equal([]string{"rollback"}))
			Expect(p2.phases).To(Equal([]string{"rollback"}))
		})

		It("aborts the transaction if a participant fails to prepare", func() {
			p1.PrepareFunc = func(context.Context, transaction.PreparingEnlistment) error {
				return errors.New("<error>")
			}

			err := tx.Commit(ctx)
			Expect(err).To(MatchError(ContainSubstring("<error>")))
			Expect(tx.Status()).To(Equal(transaction.Aborted))
		})

		It("aborts the transaction if a participant does not vote", func() {
			p1.PrepareFunc = func(context.Context, transaction.PreparingEnlistment) error {
				return nil
			}

			err := tx.Commit(ctx)
			Expect(err).To(MatchError(ContainSubstring("participant did not vote")))
			Expect(tx.Status()).To(Equal(transaction.Aborted))
		})

		It("notifies participants in the reverse of the order they were enlisted", func() {
			var order []string
			p1.NotifyFunc = func(string) { order = append(order, "p1") }
			p2.NotifyFunc = func(string) { order = append(order, "p2") }

			err := tx.Commit(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(order).To(Equal([]string{"p2", "p1"}))
		})

		It("blocks until all dependent clones are completed", func() {
			d := tx.DependentClone()
			Expect(tx.Dependents()).To(Equal(1))

			result := make(chan error, 1)
			go func() {
				result <- tx.Commit(ctx)
			}()

			Consistently(result, 50*time.Millisecond).ShouldNot(Receive())

			d.Complete()
			d.Complete()

			Eventually(result).Should(Receive(BeNil()))
			Expect(tx.Dependents()).To(Equal(0))
		})

		It("rolls back the transaction if the context is canceled while waiting for dependents", func() {
			tx.DependentClone()

			ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
			defer cancel()

			err := tx.Commit(ctx)
			Expect(err).To(Equal(context.DeadlineExceeded))
			Expect(tx.Status()).To(Equal(transaction.Aborted))
			Expect(p1.phases).To(Equal([]string{"rollback"}))
		})

		It("returns an error if the transaction has already committed", func() {
			err := tx.Commit(ctx)
			Expect(err).ShouldNot(HaveOccurred())

			err = tx.Commit(ctx)
			Expect(errors.Is(err, transaction.ErrNotActive)).To(BeTrue())
		})
	})

	Describe("func Rollback()", func() {
		It("aborts the transaction and notifies participants", func() {
			cause := errors.New("<cause>")

			err := tx.Rollback(cause)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(tx.Status()).To(Equal(transaction.Aborted))
			Expect(tx.Cause()).To(Equal(cause))
			Expect(p1.phases).To(Equal([]string{"rollback"}))
		})

		It("notifies participants in the reverse of the order they were enlisted", func() {
			var order []string
			p1.NotifyFunc = func(string) { order = append(order, "p1") }
			p2.NotifyFunc = func(string) { order = append(order, "p2") }

			err := tx.Rollback(nil)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(order).To(Equal([]string{"p2", "p1"}))
		})

		It("returns an error if the transaction has already aborted", func() {
			err := tx.Rollback(nil)
			Expect(err).ShouldNot(HaveOccurred())

			err = tx.Rollback(nil)
			Expect(errors.Is(err, transaction.ErrAborted)).To(BeTrue())
		})
	})

	Describe("func EnlistVolatile()", func() {
		It("returns an error if the transaction is not active", func() {
			err := tx.Rollback(nil)
			Expect(err).ShouldNot(HaveOccurred())

			err = tx.EnlistVolatile(&participantStub{})
			Expect(errors.Is(err, transaction.ErrAborted)).To(BeTrue())
		})

		It("enlists transaction coordinators", func() {
			committed := false
			_, err := transaction.Enlist(tx, &fixtures.InstanceStub{
				TransactionCommittedFunc: func() { committed = true },
			})
			Expect(err).ShouldNot(HaveOccurred())

			err = tx.Commit(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(committed).To(BeTrue())
		})
	})
})
