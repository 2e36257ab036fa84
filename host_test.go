package harbor_test

import (
	"context"
	"errors"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	. "github.com/dogmatiq/harbor"
	"github.com/dogmatiq/harbor/buffer"
	"github.com/dogmatiq/harbor/correlation"
	"github.com/dogmatiq/harbor/fixtures"
	"github.com/dogmatiq/harbor/persistence"
	"github.com/dogmatiq/harbor/persistence/memorypersistence"
	"github.com/dogmatiq/harbor/throttle"
	"github.com/dogmatiq/harbor/transaction"
	"github.com/dogmatiq/harbor/transaction/localtx"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Host", func() {
	const channel throttle.ChannelID = 7

	var (
		ctx       context.Context
		cancel    context.CancelFunc
		store     *memorypersistence.Store
		scheduler *fixtures.ManualScheduler
		host      *Host
		key       *correlation.Key
		request   *buffer.Request
	)

	snapshot := func(names ...string) Snapshot {
		return func() ([]byte, []persistence.Continuation, error) {
			var cs []persistence.Continuation
			for _, n := range names {
				cs = append(cs, persistence.Continuation{Name: n})
			}

			return []byte("<data>"), cs, nil
		}
	}

	revision := func() uint64 {
		inst, err := store.LoadInstance(ctx, key.Canonical())
		Expect(err).ShouldNot(HaveOccurred())
		return inst.Revision
	}

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)

		store = &memorypersistence.Store{}
		scheduler = &fixtures.ManualScheduler{}

		host = New(
			WithEngine(&fixtures.EngineStub{
				Rules: correlation.RuleSet{
					Primary: correlation.QuerySet{
						{Name: "order", Expr: "order"},
					},
				},
			}),
			WithScope("<scope>"),
			WithStore(store),
			WithTimers(scheduler),
			WithLogger(&logging.BufferedLogger{}),
		)

		key = correlation.NewKey("<scope>", map[string]string{"order": "<id>"})
		request = &buffer.Request{
			Channel: channel,
			Message: correlation.Message{
				Headers: map[string]string{"order": "<id>"},
			},
		}
	})

	AfterEach(func() {
		cancel()
	})

	Describe("func CalculateKeys()", func() {
		It("computes keys in the host's scope", func() {
			found, primary, _, err := host.CalculateKeys(request)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(primary.Equal(key)).To(BeTrue())
		})
	})

	Describe("func BufferReceive()", func() {
		It("replays the request when a transaction adds its continuation point", func() {
			ack := &fixtures.AckHandleStub{}

			ok, err := host.BufferReceive(ctx, request, ack, "B1", nil, false)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(host.Pending(key)).To(Equal(1))
			Expect(host.Outstanding(channel)).To(Equal(1))

			tx := localtx.New()
			err = host.Persist(ctx, tx, key, snapshot("B1"))
			Expect(err).ShouldNot(HaveOccurred())

			Expect(ack.Replayed()).To(Equal(0))

			err = tx.Commit(ctx)
			Expect(err).ShouldNot(HaveOccurred())

			Expect(ack.Replayed()).To(Equal(1))
			Expect(host.Pending(key)).To(Equal(0))
			Expect(host.Outstanding(channel)).To(Equal(0))
		})

		It("does not replay the request if the transaction rolls back", func() {
			ack := &fixtures.AckHandleStub{}

			_, err := host.BufferReceive(ctx, request, ack, "B1", nil, false)
			Expect(err).ShouldNot(HaveOccurred())

			tx := localtx.New()
			err = host.Persist(ctx, tx, key, snapshot("B1"))
			Expect(err).ShouldNot(HaveOccurred())

			err = tx.Rollback(errors.New("<cause>"))
			Expect(err).ShouldNot(HaveOccurred())

			Expect(ack.Replayed()).To(Equal(0))
			Expect(host.Pending(key)).To(Equal(1))
		})

		It("replays the request immediately if the instance is already waiting for it", func() {
			err := host.Persist(ctx, nil, key, snapshot("B1"))
			Expect(err).ShouldNot(HaveOccurred())

			ack := &fixtures.AckHandleStub{}
			ok, err := host.BufferReceive(ctx, request, ack, "B1", nil, false)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(ack.Replayed()).To(Equal(1))
			Expect(host.Pending(key)).To(Equal(0))
		})
	})

	Describe("func Persist()", func() {
		It("writes the snapshot when the transaction commits", func() {
			tx := localtx.New()

			err := host.Persist(ctx, tx, key, snapshot())
			Expect(err).ShouldNot(HaveOccurred())
			Expect(revision()).To(BeZero())

			err = tx.Commit(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(revision()).To(BeEquivalentTo(1))
		})

		It("writes the snapshot immediately if there is no transaction", func() {
			err := host.Persist(ctx, nil, key, snapshot())
			Expect(err).ShouldNot(HaveOccurred())
			Expect(revision()).To(BeEquivalentTo(1))

			err = host.Persist(ctx, nil, key, snapshot())
			Expect(err).ShouldNot(HaveOccurred())
			Expect(revision()).To(BeEquivalentTo(2))
		})

		It("serializes transactions that persist the same instance", func() {
			tx1 := localtx.New()
			tx2 := localtx.New()

			err := host.Persist(ctx, tx1, key, snapshot())
			Expect(err).ShouldNot(HaveOccurred())

			result := make(chan error, 1)
			go func() {
				result <- host.Persist(ctx, tx2, key, snapshot())
			}()

			Consistently(result, 50*time.Millisecond).ShouldNot(Receive())

			err = tx1.Commit(ctx)
			Expect(err).ShouldNot(HaveOccurred())

			Eventually(result).Should(Receive(BeNil()))

			err = tx2.Commit(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(revision()).To(BeEquivalentTo(2))
		})

		It("does not serialize transactions that persist different instances", func() {
			other := correlation.NewKey("<scope>", map[string]string{"order": "<other>"})

			err := host.Persist(ctx, localtx.New(), key, snapshot())
			Expect(err).ShouldNot(HaveOccurred())

			err = host.Persist(ctx, localtx.New(), other, snapshot())
			Expect(err).ShouldNot(HaveOccurred())
		})

		It("returns a timeout error if the persistence context is not released in time", func() {
			tx1 := localtx.New()
			tx2 := localtx.New()

			err := host.Persist(ctx, tx1, key, snapshot())
			Expect(err).ShouldNot(HaveOccurred())

			result := make(chan error, 1)
			go func() {
				result <- host.Persist(ctx, tx2, key, snapshot())
			}()

			Eventually(scheduler.Last).ShouldNot(BeNil())
			Expect(scheduler.Last().Duration).To(Equal(DefaultWaitTimeout))
			scheduler.Last().Fire()

			var waitErr error
			Eventually(result).Should(Receive(&waitErr))
			Expect(errors.Is(waitErr, transaction.ErrWaitTimeout)).To(BeTrue())

			err = tx1.Commit(ctx)
			Expect(err).ShouldNot(HaveOccurred())

			err = tx2.Commit(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(revision()).To(BeEquivalentTo(1))
		})

		It("releases the persistence context if a non-transactional caller stops waiting", func() {
			tx := localtx.New()

			err := host.Persist(ctx, tx, key, snapshot())
			Expect(err).ShouldNot(HaveOccurred())

			canceled, cancelWait := context.WithCancel(ctx)
			cancelWait()

			err = host.Persist(canceled, nil, key, snapshot())
			Expect(err).To(Equal(context.Canceled))

			err = tx.Commit(ctx)
			Expect(err).ShouldNot(HaveOccurred())

			err = host.Persist(ctx, nil, key, snapshot())
			Expect(err).ShouldNot(HaveOccurred())
			Expect(revision()).To(BeEquivalentTo(2))
		})

		It("aborts the transaction if the instance was modified elsewhere", func() {
			tx := localtx.New()

			err := host.Persist(ctx, tx, key, snapshot())
			Expect(err).ShouldNot(HaveOccurred())

			err = store.SaveInstance(ctx, persistence.Instance{Key: key.Canonical()})
			Expect(err).ShouldNot(HaveOccurred())

			err = tx.Commit(ctx)

			var conflict persistence.ConflictError
			Expect(errors.As(err, &conflict)).To(BeTrue())
			Expect(tx.Status()).To(Equal(transaction.Aborted))
		})
		It("does not change the instance if the transaction aborts after the snapshot is staged", func() {
			ack := &fixtures.AckHandleStub{}

			_, err := host.BufferReceive(ctx, request, ack, "B1", nil, false)
			Expect(err).ShouldNot(HaveOccurred())

			staged := make(chan struct{})
			tx := localtx.New()

			err = host.Persist(ctx, tx, key, func() ([]byte, []persistence.Continuation, error) {
				defer close(staged)
				return []byte("<data>"), []persistence.Continuation{{Name: "B1"}}, nil
			})
			Expect(err).ShouldNot(HaveOccurred())

			cause := errors.New("<cause>")
			err = tx.EnlistVolatile(&fixtures.ParticipantStub{
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
			Expect(err).ShouldNot(HaveOccurred())

			err = tx.Commit(ctx)
			Expect(errors.Is(err, cause)).To(BeTrue())
			Expect(tx.Status()).To(Equal(transaction.Aborted))

			Expect(revision()).To(BeZero())

			cs, err := store.Continuations(ctx, key)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(cs).NotTo(ContainElement(persistence.Continuation{Name: "B1"}))

			Expect(ack.Replayed()).To(Equal(0))
			Expect(host.Pending(key)).To(Equal(1))

			err = host.Persist(ctx, nil, key, snapshot())
			Expect(err).ShouldNot(HaveOccurred())
			Expect(revision()).To(BeEquivalentTo(1))
		})
	})

	Describe("func AbandonBufferedReceives()", func() {
		It("abandons the requests buffered for the instance", func() {
			ack := &fixtures.AckHandleStub{}

			_, err := host.BufferReceive(ctx, request, ack, "B1", nil, false)
			Expect(err).ShouldNot(HaveOccurred())

			host.AbandonBufferedReceives(ctx, key)

			Expect(ack.Abandoned()).To(Equal(1))
			Expect(host.Pending(key)).To(Equal(0))
			Expect(host.Outstanding(channel)).To(Equal(0))
		})

		It("allows the instance to be persisted again afterwards", func() {
			err := host.Persist(ctx, nil, key, snapshot())
			Expect(err).ShouldNot(HaveOccurred())

			host.AbandonBufferedReceives(ctx, key)

			err = host.Persist(ctx, nil, key, snapshot())
			Expect(err).ShouldNot(HaveOccurred())
			Expect(revision()).To(BeEquivalentTo(2))
		})
	})

	Describe("func Close()", func() {
		It("abandons all buffered requests", func() {
			ack := &fixtures.AckHandleStub{}

			_, err := host.BufferReceive(ctx, request, ack, "B1", nil, false)
			Expect(err).ShouldNot(HaveOccurred())

			err = host.Close(ctx)
			Expect(err).ShouldNot(HaveOccurred())

			Expect(ack.Abandoned()).To(Equal(1))
			Expect(host.Outstanding(channel)).To(Equal(0))
		})

		It("closes the store", func() {
			err := host.Close(ctx)
			Expect(err).ShouldNot(HaveOccurred())

			_, err = store.LoadInstance(ctx, key.Canonical())
			Expect(err).To(Equal(persistence.ErrStoreClosed))
		})

		It("prevents further operations", func() {
			err := host.Close(ctx)
			Expect(err).ShouldNot(HaveOccurred())

			_, err = host.BufferReceive(ctx, request, &fixtures.AckHandleStub{}, "B1", nil, false)
			Expect(err).To(Equal(ErrHostClosed))

			err = host.Persist(ctx, nil, key, snapshot())
			Expect(err).To(Equal(ErrHostClosed))

			err = host.Close(ctx)
			Expect(err).To(Equal(ErrHostClosed))
		})
	})
})
