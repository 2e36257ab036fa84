package persistence_test

import (
	"context"
	"errors"
	"time"

	"github.com/dogmatiq/harbor/correlation"
	"github.com/dogmatiq/harbor/fixtures"
	. "github.com/dogmatiq/harbor/persistence"
	"github.com/dogmatiq/harbor/persistence/memorypersistence"
	"github.com/dogmatiq/harbor/transaction"
	"github.com/dogmatiq/harbor/transaction/localtx"
	. "github.com/jmalloc/gomegax"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("type PersistedInstance", func() {
	var (
		ctx           context.Context
		cancel        context.CancelFunc
		store         *memorypersistence.Store
		key           *correlation.Key
		data          []byte
		continuations []Continuation
		committed     [][]Continuation
		failures      []error
		inst          *PersistedInstance
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)

		store = &memorypersistence.Store{}
		key = correlation.NewKey("<scope>", map[string]string{"order": "<id>"})
		data = []byte("<data>")
		continuations = []Continuation{{Name: "<a>"}}
		committed = nil
		failures = nil

		inst = &PersistedInstance{
			Store: store,
			Key:   key,
			Snapshot: func() ([]byte, []Continuation, error) {
				return data, continuations, nil
			},
			OnCommitted: func(k *correlation.Key, added []Continuation) {
				Expect(k).To(BeIdenticalTo(key))
				committed = append(committed, added)
			},
			OnFailed: func(_ *correlation.Key, err error) {
				failures = append(failures, err)
			},
		}
	})

	AfterEach(func() {
		cancel()
	})

	commit := func(participants ...transaction.Participant) error {
		tx := localtx.New()
		inst.Transaction = tx.ID()

		_, err := transaction.Enlist(tx, inst)
		Expect(err).ShouldNot(HaveOccurred())

		for _, p := range participants {
			err := tx.EnlistVolatile(p)
			Expect(err).ShouldNot(HaveOccurred())
		}

		return tx.Commit(ctx)
	}

	It("writes the snapshot to the store when the transaction commits", func() {
		err := commit()
		Expect(err).ShouldNot(HaveOccurred())

		persisted, err := store.LoadInstance(ctx, key.Canonical())
		Expect(err).ShouldNot(HaveOccurred())
		Expect(persisted).To(EqualX(Instance{
			Key:           key.Canonical(),
			Revision:      1,
			Data:          []byte("<data>"),
			Continuations: []Continuation{{Name: "<a>"}},
		}))

		Expect(inst.Revision()).To(BeEquivalentTo(1))
	})

	It("reports newly available continuations after the transaction commits", func() {
		err := commit()
		Expect(err).ShouldNot(HaveOccurred())

		continuations = []Continuation{{Name: "<a>"}, {Name: "<b>"}}

		err = commit()
		Expect(err).ShouldNot(HaveOccurred())

		Expect(committed).To(Equal([][]Continuation{
			{{Name: "<a>"}},
			{{Name: "<b>"}},
		}))
	})

	It("does not report anything if no continuations were added", func() {
		continuations = nil

		err := commit()
		Expect(err).ShouldNot(HaveOccurred())
		Expect(committed).To(BeEmpty())
	})

	It("continues from an existing revision in the store", func() {
		err := store.SaveInstance(ctx, Instance{Key: key.Canonical()})
		Expect(err).ShouldNot(HaveOccurred())

		err = commit()
		Expect(err).ShouldNot(HaveOccurred())
		Expect(inst.Revision()).To(BeEquivalentTo(2))
	})

	It("aborts the transaction if the snapshot fails", func() {
		inst.Snapshot = func() ([]byte, []Continuation, error) {
			return nil, nil, errors.New("<error>")
		}

		err := commit()
		Expect(err).To(MatchError(ContainSubstring("<error>")))
		Expect(failures).To(HaveLen(1))
		Expect(committed).To(BeEmpty())
	})

	When("the instance is modified by another party", func() {
		BeforeEach(func() {
			_, err := inst.Load(ctx)
			Expect(err).ShouldNot(HaveOccurred())

			err = store.SaveInstance(ctx, Instance{Key: key.Canonical()})
			Expect(err).ShouldNot(HaveOccurred())
		})

		It("aborts the transaction with a conflict error", func() {
			err := commit()

			var conflict ConflictError
			Expect(errors.As(err, &conflict)).To(BeTrue())
			Expect(conflict.Revision).To(BeZero())
			Expect(transaction.IsTransactionError(conflict)).To(BeFalse())
		})

		It("reloads the instance before the next attempt", func() {
			err := commit()
			Expect(err).Should(HaveOccurred())

			err = commit()
			Expect(err).ShouldNot(HaveOccurred())
			Expect(inst.Revision()).To(BeEquivalentTo(2))
		})
	})

	It("does not apply the snapshot if the transaction aborts after it is staged", func() {
		staged := make(chan struct{})
		inst.Snapshot = func() ([]byte, []Continuation, error) {
			defer close(staged)
			return data, continuations, nil
		}

		cause := errors.New("<cause>")
		err := commit(&fixtures.ParticipantStub{
			PrepareFunc: func(ctx context.Context, e transaction.PreparingEnlistment) error {
				select {
				case <-staged:
				case <-ctx.Done():
					return ctx.Err()
				}

				e.ForceRollback(cause)
				return nil
			},
		})
		Expect(errors.Is(err, cause)).To(BeTrue())
		Expect(failures).To(HaveLen(1))
		Expect(committed).To(BeEmpty())
		Expect(inst.Revision()).To(BeZero())

		persisted, err := store.LoadInstance(ctx, key.Canonical())
		Expect(err).ShouldNot(HaveOccurred())
		Expect(persisted.Revision).To(BeZero())
		Expect(persisted.Continuations).To(BeEmpty())

		cs, err := store.Continuations(ctx, key)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(cs).To(BeEmpty())

		err = store.SaveInstance(ctx, Instance{Key: key.Canonical()})
		Expect(err).ShouldNot(HaveOccurred())
	})

	It("reports a failure if the staged snapshot can not be applied", func() {
		err := commit(&fixtures.ParticipantStub{
			CommitFunc: func(e transaction.Enlistment) {
				store.Close()
				e.Done()
			},
		})
		Expect(err).ShouldNot(HaveOccurred())
		Expect(failures).To(ConsistOf(ErrStoreClosed))
		Expect(committed).To(BeEmpty())
		Expect(inst.Revision()).To(BeZero())
	})

	It("discards the snapshot if the transaction rolls back before it is prepared", func() {
		tx := localtx.New()

		_, err := transaction.Enlist(tx, inst)
		Expect(err).ShouldNot(HaveOccurred())

		err = tx.Rollback(errors.New("<cause>"))
		Expect(err).ShouldNot(HaveOccurred())

		Expect(inst.Revision()).To(BeZero())
		Expect(failures).To(HaveLen(1))
		Expect(errors.Is(failures[0], transaction.ErrAborted)).To(BeTrue())

		persisted, err := store.LoadInstance(ctx, key.Canonical())
		Expect(err).ShouldNot(HaveOccurred())
		Expect(persisted.Revision).To(BeZero())
	})

	Describe("func Save()", func() {
		It("writes the snapshot to the store immediately", func() {
			err := inst.Save(ctx)
			Expect(err).ShouldNot(HaveOccurred())

			persisted, err := store.LoadInstance(ctx, key.Canonical())
			Expect(err).ShouldNot(HaveOccurred())
			Expect(persisted.Revision).To(BeEquivalentTo(1))
			Expect(persisted.Data).To(Equal([]byte("<data>")))

			Expect(inst.Revision()).To(BeEquivalentTo(1))
			Expect(committed).To(Equal([][]Continuation{
				{{Name: "<a>"}},
			}))
		})

		It("returns a conflict error if the instance was modified by another party", func() {
			_, err := inst.Load(ctx)
			Expect(err).ShouldNot(HaveOccurred())

			err = store.SaveInstance(ctx, Instance{Key: key.Canonical()})
			Expect(err).ShouldNot(HaveOccurred())

			err = inst.Save(ctx)
			Expect(err).To(Equal(ConflictError{Key: key.Canonical()}))

			err = inst.Save(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(inst.Revision()).To(BeEquivalentTo(2))
		})
	})
})
