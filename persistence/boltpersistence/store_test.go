package boltpersistence_test

import (
	"context"
	"os"
	"path/filepath"

	"github.com/dogmatiq/harbor/persistence"
	. "github.com/dogmatiq/harbor/persistence/boltpersistence"
	"github.com/dogmatiq/harbor/persistence/internal/storetest"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.etcd.io/bbolt"
)

var _ = Describe("type Store", func() {
	var (
		dir string
		db  *bbolt.DB
	)

	storetest.Declare(
		func(ctx context.Context) storetest.Out {
			var err error
			dir, err = os.MkdirTemp("", "harbor-bolt-")
			Expect(err).ShouldNot(HaveOccurred())

			db, err = bbolt.Open(filepath.Join(dir, "db.boltdb"), 0600, nil)
			Expect(err).ShouldNot(HaveOccurred())

			return storetest.Out{
				NewStore: func() persistence.Store {
					return &Store{DB: db}
				},
				IsShared: true,
			}
		},
		func() {
			db.Close()
			os.RemoveAll(dir)
		},
	)
})

var _ = Describe("func Open()", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "harbor-bolt-")
		Expect(err).ShouldNot(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("opens a store that persists data across re-opens", func() {
		ctx := context.Background()
		path := filepath.Join(dir, "db.boltdb")

		s, err := Open(ctx, path, 0, nil)
		Expect(err).ShouldNot(HaveOccurred())

		err = s.SaveInstance(ctx, persistence.Instance{
			Key:           "<key>",
			Data:          []byte("<data>"),
			Continuations: []persistence.Continuation{{Name: "<a>"}},
		})
		Expect(err).ShouldNot(HaveOccurred())

		err = s.Close()
		Expect(err).ShouldNot(HaveOccurred())

		s, err = Open(ctx, path, 0, nil)
		Expect(err).ShouldNot(HaveOccurred())
		defer s.Close()

		inst, err := s.LoadInstance(ctx, "<key>")
		Expect(err).ShouldNot(HaveOccurred())
		Expect(inst).To(Equal(persistence.Instance{
			Key:           "<key>",
			Revision:      1,
			Data:          []byte("<data>"),
			Continuations: []persistence.Continuation{{Name: "<a>"}},
		}))
	})

	It("returns an error if the context is already canceled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := Open(ctx, filepath.Join(dir, "db.boltdb"), 0, nil)
		Expect(err).To(Equal(context.Canceled))
	})
})
