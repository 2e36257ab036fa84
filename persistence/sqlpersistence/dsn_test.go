package sqlpersistence_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/dogmatiq/harbor/persistence"
	. "github.com/dogmatiq/harbor/persistence/sqlpersistence"
	"github.com/dogmatiq/harbor/persistence/sqlpersistence/sqlite"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	_ "modernc.org/sqlite"
)

var _ = Describe("func OpenDSN()", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "harbor-sqlite-")
		Expect(err).ShouldNot(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("opens a store that selects the driver automatically", func() {
		ctx := context.Background()

		s, err := OpenDSN(
			ctx,
			sqlite.DriverName,
			filepath.Join(dir, "harbor.sqlite3"),
			DSNOptions{MaxOpenConns: 1},
		)
		Expect(err).ShouldNot(HaveOccurred())
		defer s.Close()

		err = CreateSchema(ctx, s.DB)
		Expect(err).ShouldNot(HaveOccurred())

		err = s.SaveInstance(ctx, persistence.Instance{Key: "<key>"})
		Expect(err).ShouldNot(HaveOccurred())

		inst, err := s.LoadInstance(ctx, "<key>")
		Expect(err).ShouldNot(HaveOccurred())
		Expect(inst.Revision).To(BeEquivalentTo(1))
		Expect(s.Driver).To(Equal(sqlite.Driver))
	})

	It("returns an error if the driver is unknown", func() {
		_, err := OpenDSN(context.Background(), "<unknown>", "", DSNOptions{})
		Expect(err).Should(HaveOccurred())
	})
})

var _ = Describe("func DriverFor()", func() {
	var (
		dir string
		db  *sql.DB
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "harbor-sqlite-")
		Expect(err).ShouldNot(HaveOccurred())

		db, err = sql.Open(sqlite.DriverName, filepath.Join(dir, "harbor.sqlite3"))
		Expect(err).ShouldNot(HaveOccurred())
	})

	AfterEach(func() {
		db.Close()
		os.RemoveAll(dir)
	})

	It("returns the driver that is compatible with the database", func() {
		d, err := DriverFor(context.Background(), db)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(d).To(Equal(sqlite.Driver))
	})

	It("releases its connections when checking compatibility", func() {
		db.SetMaxOpenConns(1)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		for i := 0; i < 3; i++ {
			d, err := DriverFor(ctx, db)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(d).To(Equal(sqlite.Driver))
		}

		Expect(db.Stats().InUse).To(Equal(0))

		err := db.PingContext(ctx)
		Expect(err).ShouldNot(HaveOccurred())
	})
})
