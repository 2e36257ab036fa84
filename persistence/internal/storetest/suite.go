// Package storetest is a conformance test-suite for persistence.Store
// implementations.
package storetest

import (
	"context"
	"time"

	"github.com/dogmatiq/harbor/correlation"
	"github.com/dogmatiq/harbor/persistence"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jmalloc/gomegax"
	"github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/extensions/table"
	"github.com/onsi/gomega"
)

// Out is a container for values that are provided by the store-specific
// initialization code to the test suite.
type Out struct {
	// NewStore is a function that returns a new store.
	NewStore func() persistence.Store

	// IsShared is true if multiple stores returned by NewStore access the same
	// data.
	IsShared bool

	// TestTimeout is the maximum duration allowed for each test.
	TestTimeout time.Duration
}

// DefaultTestTimeout is the default test timeout.
const DefaultTestTimeout = 5 * time.Second

// Declare declares generic behavioral tests for a specific store
// implementation.
func Declare(
	before func(context.Context) Out,
	after func(),
) {
	var (
		ctx    context.Context
		cancel func()
		out    Out
		store  persistence.Store
		key    *correlation.Key
	)

	ginkgo.Context("standard store test suite", func() {
		ginkgo.BeforeEach(func() {
			store, cancel = nil, nil

			setupCtx, cancelSetup := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelSetup()

			out = before(setupCtx)

			if out.TestTimeout <= 0 {
				out.TestTimeout = DefaultTestTimeout
			}

			ctx, cancel = context.WithTimeout(context.Background(), out.TestTimeout)

			store = out.NewStore()
			key = correlation.NewKey("<scope>", map[string]string{"order": "<id>"})
		})

		ginkgo.AfterEach(func() {
			if store == nil {
				// The store-specific setup skipped the test.
				return
			}

			store.Close()

			if after != nil {
				after()
			}

			cancel()
		})

		save := func(inst persistence.Instance) {
			err := store.SaveInstance(ctx, inst)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
		}

		load := func(k string) persistence.Instance {
			inst, err := store.LoadInstance(ctx, k)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			return inst
		}

		ginkgo.Describe("func LoadInstance()", func() {
			ginkgo.It("returns an instance with a zero revision if it does not exist", func() {
				inst := load(key.Canonical())

				gomega.Expect(inst.Key).To(gomega.Equal(key.Canonical()))
				gomega.Expect(inst.Revision).To(gomega.BeZero())
				gomega.Expect(inst.Data).To(gomega.BeEmpty())
				gomega.Expect(inst.Continuations).To(gomega.BeEmpty())
			})

			ginkgo.It("returns the persisted instance", func() {
				save(persistence.Instance{
					Key:  key.Canonical(),
					Data: []byte("<data>"),
					Continuations: []persistence.Continuation{
						{Name: "<a>"},
						{Name: "<b>"},
					},
				})

				inst := load(key.Canonical())

				gomega.Expect(inst).To(gomegax.EqualX(
					persistence.Instance{
						Key:      key.Canonical(),
						Revision: 1,
						Data:     []byte("<data>"),
						Continuations: []persistence.Continuation{
							{Name: "<a>"},
							{Name: "<b>"},
						},
					},
					cmpopts.SortSlices(func(a, b persistence.Continuation) bool {
						return a.Name < b.Name
					}),
				))
			})
		})

		ginkgo.Describe("func SaveInstance()", func() {
			ginkgo.BeforeEach(func() {
				save(persistence.Instance{
					Key:  key.Canonical(),
					Data: []byte("<data-1>"),
					Continuations: []persistence.Continuation{
						{Name: "<a>"},
						{Name: "<b>"},
					},
				})
			})

			ginkgo.It("increments the revision", func() {
				save(persistence.Instance{
					Key:      key.Canonical(),
					Revision: 1,
				})

				inst := load(key.Canonical())
				gomega.Expect(inst.Revision).To(gomega.BeEquivalentTo(2))
			})

			ginkgo.It("replaces the data and continuations", func() {
				save(persistence.Instance{
					Key:      key.Canonical(),
					Revision: 1,
					Data:     []byte("<data-2>"),
					Continuations: []persistence.Continuation{
						{Name: "<b>"},
						{Name: "<c>"},
					},
				})

				inst := load(key.Canonical())
				gomega.Expect(inst.Data).To(gomega.Equal([]byte("<data-2>")))
				gomega.Expect(inst.Continuations).To(gomega.ConsistOf(
					persistence.Continuation{Name: "<b>"},
					persistence.Continuation{Name: "<c>"},
				))
			})

			table.DescribeTable(
				"it returns a conflict error if the revision is not current",
				func(rev int) {
					err := store.SaveInstance(ctx, persistence.Instance{
						Key:      key.Canonical(),
						Revision: uint64(rev),
						Data:     []byte("<conflicting>"),
					})
					gomega.Expect(err).To(gomegax.EqualX(
						persistence.ConflictError{
							Key:      key.Canonical(),
							Revision: uint64(rev),
						},
					))

					inst := load(key.Canonical())
					gomega.Expect(inst.Revision).To(gomega.BeEquivalentTo(1))
					gomega.Expect(inst.Data).To(gomega.Equal([]byte("<data-1>")))
				},
				table.Entry("zero", 0),
				table.Entry("too high", 2),
				table.Entry("much too high", 100),
			)

			ginkgo.It("does not affect other instances", func() {
				other := correlation.NewKey("<scope>", map[string]string{"order": "<other>"})

				inst := load(other.Canonical())
				gomega.Expect(inst.Revision).To(gomega.BeZero())
			})

			ginkgo.It("makes the instance visible to other stores that share data", func() {
				if !out.IsShared {
					ginkgo.Skip("stores do not share data")
				}

				s := out.NewStore()
				defer s.Close()

				inst, err := s.LoadInstance(ctx, key.Canonical())
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(inst.Revision).To(gomega.BeEquivalentTo(1))
			})
		})

		ginkgo.Describe("func StageInstance()", func() {
			stage := func(id string, inst persistence.Instance) {
				err := store.StageInstance(ctx, id, inst)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			}

			ginkgo.BeforeEach(func() {
				stage("<tx-1>", persistence.Instance{
					Key:  key.Canonical(),
					Data: []byte("<data>"),
					Continuations: []persistence.Continuation{
						{Name: "<a>"},
					},
				})
			})

			ginkgo.It("does not make the write visible", func() {
				inst := load(key.Canonical())
				gomega.Expect(inst.Revision).To(gomega.BeZero())
				gomega.Expect(inst.Data).To(gomega.BeEmpty())

				cs, err := store.Continuations(ctx, key)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(cs).To(gomega.BeEmpty())
			})

			ginkgo.It("returns a conflict error if another transaction has staged a write", func() {
				err := store.StageInstance(ctx, "<tx-2>", persistence.Instance{
					Key: key.Canonical(),
				})
				gomega.Expect(err).To(gomegax.EqualX(
					persistence.ConflictError{
						Key: key.Canonical(),
					},
				))
			})

			ginkgo.It("returns a conflict error if the revision is not current", func() {
				err := store.StageInstance(ctx, "<tx-1>", persistence.Instance{
					Key:      key.Canonical(),
					Revision: 1,
				})
				gomega.Expect(err).To(gomegax.EqualX(
					persistence.ConflictError{
						Key:      key.Canonical(),
						Revision: 1,
					},
				))
			})

			ginkgo.It("replaces a write staged by the same transaction", func() {
				stage("<tx-1>", persistence.Instance{
					Key:  key.Canonical(),
					Data: []byte("<replaced>"),
					Continuations: []persistence.Continuation{
						{Name: "<b>"},
					},
				})

				err := store.CommitInstance(ctx, "<tx-1>", key.Canonical())
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				inst := load(key.Canonical())
				gomega.Expect(inst.Data).To(gomega.Equal([]byte("<replaced>")))
				gomega.Expect(inst.Continuations).To(gomega.ConsistOf(
					persistence.Continuation{Name: "<b>"},
				))
			})

			ginkgo.It("causes SaveInstance() to return a conflict error", func() {
				err := store.SaveInstance(ctx, persistence.Instance{
					Key: key.Canonical(),
				})
				gomega.Expect(err).To(gomegax.EqualX(
					persistence.ConflictError{
						Key: key.Canonical(),
					},
				))
			})
		})

		ginkgo.Describe("func CommitInstance()", func() {
			ginkgo.BeforeEach(func() {
				save(persistence.Instance{
					Key:  key.Canonical(),
					Data: []byte("<data-1>"),
				})

				err := store.StageInstance(ctx, "<tx>", persistence.Instance{
					Key:      key.Canonical(),
					Revision: 1,
					Data:     []byte("<data-2>"),
					Continuations: []persistence.Continuation{
						{Name: "<a>"},
						{Name: "<b>"},
					},
				})
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			})

			ginkgo.It("applies the staged write at the next revision", func() {
				err := store.CommitInstance(ctx, "<tx>", key.Canonical())
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				inst := load(key.Canonical())
				gomega.Expect(inst).To(gomegax.EqualX(
					persistence.Instance{
						Key:      key.Canonical(),
						Revision: 2,
						Data:     []byte("<data-2>"),
						Continuations: []persistence.Continuation{
							{Name: "<a>"},
							{Name: "<b>"},
						},
					},
					cmpopts.SortSlices(func(a, b persistence.Continuation) bool {
						return a.Name < b.Name
					}),
				))
			})

			ginkgo.It("allows the instance to be saved again", func() {
				err := store.CommitInstance(ctx, "<tx>", key.Canonical())
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				save(persistence.Instance{
					Key:      key.Canonical(),
					Revision: 2,
				})

				inst := load(key.Canonical())
				gomega.Expect(inst.Revision).To(gomega.BeEquivalentTo(3))
			})

			ginkgo.It("does nothing if the transaction has not staged a write", func() {
				err := store.CommitInstance(ctx, "<other-tx>", key.Canonical())
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				inst := load(key.Canonical())
				gomega.Expect(inst.Revision).To(gomega.BeEquivalentTo(1))
				gomega.Expect(inst.Data).To(gomega.Equal([]byte("<data-1>")))
			})
		})

		ginkgo.Describe("func DiscardInstance()", func() {
			ginkgo.BeforeEach(func() {
				err := store.StageInstance(ctx, "<tx>", persistence.Instance{
					Key: key.Canonical(),
					Continuations: []persistence.Continuation{
						{Name: "<a>"},
					},
				})
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			})

			ginkgo.It("discards the staged write", func() {
				err := store.DiscardInstance(ctx, "<tx>", key.Canonical())
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				err = store.CommitInstance(ctx, "<tx>", key.Canonical())
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				inst := load(key.Canonical())
				gomega.Expect(inst.Revision).To(gomega.BeZero())
				gomega.Expect(inst.Continuations).To(gomega.BeEmpty())

				save(persistence.Instance{Key: key.Canonical()})
			})

			ginkgo.It("does not discard a write staged by another transaction", func() {
				err := store.DiscardInstance(ctx, "<other-tx>", key.Canonical())
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				err = store.CommitInstance(ctx, "<tx>", key.Canonical())
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				inst := load(key.Canonical())
				gomega.Expect(inst.Revision).To(gomega.BeEquivalentTo(1))
			})
		})

		ginkgo.Describe("func Continuations()", func() {
			ginkgo.It("returns an empty slice if the instance does not exist", func() {
				cs, err := store.Continuations(ctx, key)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(cs).To(gomega.BeEmpty())
			})

			ginkgo.It("returns the continuations of the instance", func() {
				save(persistence.Instance{
					Key: key.Canonical(),
					Continuations: []persistence.Continuation{
						{Name: "<a>"},
						{Name: "<b>"},
					},
				})

				cs, err := store.Continuations(ctx, key)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(cs).To(gomega.ConsistOf(
					persistence.Continuation{Name: "<a>"},
					persistence.Continuation{Name: "<b>"},
				))
			})

			ginkgo.It("finds the instance using an independently constructed key", func() {
				save(persistence.Instance{
					Key: key.Canonical(),
					Continuations: []persistence.Continuation{
						{Name: "<a>"},
					},
				})

				k := correlation.NewAdditionalKey("<name>", "<scope>", map[string]string{"order": "<id>"})

				cs, err := store.Continuations(ctx, k)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(cs).To(gomega.HaveLen(1))
			})
		})

		ginkgo.Describe("func Close()", func() {
			ginkgo.It("prevents further operations", func() {
				err := store.Close()
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				_, err = store.LoadInstance(ctx, key.Canonical())
				gomega.Expect(err).To(gomega.Equal(persistence.ErrStoreClosed))

				err = store.SaveInstance(ctx, persistence.Instance{Key: key.Canonical()})
				gomega.Expect(err).To(gomega.Equal(persistence.ErrStoreClosed))

				_, err = store.Continuations(ctx, key)
				gomega.Expect(err).To(gomega.Equal(persistence.ErrStoreClosed))

				err = store.StageInstance(ctx, "<tx>", persistence.Instance{Key: key.Canonical()})
				gomega.Expect(err).To(gomega.Equal(persistence.ErrStoreClosed))

				err = store.CommitInstance(ctx, "<tx>", key.Canonical())
				gomega.Expect(err).To(gomega.Equal(persistence.ErrStoreClosed))

				err = store.DiscardInstance(ctx, "<tx>", key.Canonical())
				gomega.Expect(err).To(gomega.Equal(persistence.ErrStoreClosed))
			})

			ginkgo.It("returns an error if the store is already closed", func() {
				err := store.Close()
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				err = store.Close()
				gomega.Expect(err).To(gomega.Equal(persistence.ErrStoreClosed))
			})
		})
	})
}
