//go:build cgo
// +build cgo

package sqlpersistence_test

import (
	"context"
	"database/sql"
	"time"

	"github.com/dogmatiq/harbor/persistence"
	"github.com/dogmatiq/harbor/persistence/internal/storetest"
	. "github.com/dogmatiq/harbor/persistence/sqlpersistence"
	"github.com/dogmatiq/harbor/persistence/sqlpersistence/mysql"
	"github.com/dogmatiq/harbor/persistence/sqlpersistence/postgres"
	"github.com/dogmatiq/harbor/persistence/sqlpersistence/sqlite"
	"github.com/dogmatiq/sqltest"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// declareStoreTests declares the standard store tests against a temporary
// database for each of the given driver/product pairs.
//
// If required is false, the tests are skipped when the database server is
// not available.
func declareStoreTests(
	driver Driver,
	pairs []sqltest.Pair,
	required bool,
) {
	for _, pair := range pairs {
		pair := pair // capture loop variable

		var (
			database *sqltest.Database
			db       *sql.DB
		)

		storetest.Declare(
			func(ctx context.Context) storetest.Out {
				var err error
				database, err = sqltest.NewDatabase(ctx, pair.Driver, pair.Product)
				if err != nil && !required {
					Skip("database is not available: " + err.Error())
				}
				Expect(err).ShouldNot(HaveOccurred())

				db, err = database.Open()
				Expect(err).ShouldNot(HaveOccurred())

				err = driver.CreateSchema(ctx, db)
				Expect(err).ShouldNot(HaveOccurred())

				return storetest.Out{
					NewStore: func() persistence.Store {
						return &Store{DB: db}
					},
					IsShared: true,
				}
			},
			func() {
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()

				err := driver.DropSchema(ctx, db)
				Expect(err).ShouldNot(HaveOccurred())

				err = database.Close()
				Expect(err).ShouldNot(HaveOccurred())
			},
		)
	}
}

var _ = Describe("type Store", func() {
	Context("SQLite", func() {
		declareStoreTests(
			sqlite.Driver,
			sqltest.CompatiblePairs(sqltest.SQLite),
			true,
		)
	})

	Context("PostgreSQL", func() {
		declareStoreTests(
			postgres.Driver,
			sqltest.CompatiblePairs(sqltest.PostgreSQL),
			false,
		)
	})

	Context("MySQL", func() {
		declareStoreTests(
			mysql.Driver,
			sqltest.CompatiblePairs(sqltest.MySQL),
			false,
		)
	})
})

var _ = Describe("func CreateSchema()", func() {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		database *sqltest.Database
		db       *sql.DB
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)

		var err error
		database, err = sqltest.NewDatabase(ctx, sqltest.SQLite3Driver, sqltest.SQLite)
		Expect(err).ShouldNot(HaveOccurred())

		db, err = database.Open()
		Expect(err).ShouldNot(HaveOccurred())
	})

	AfterEach(func() {
		err := database.Close()
		Expect(err).ShouldNot(HaveOccurred())

		cancel()
	})

	It("can be called more than once", func() {
		err := CreateSchema(ctx, db)
		Expect(err).ShouldNot(HaveOccurred())

		err = CreateSchema(ctx, db)
		Expect(err).ShouldNot(HaveOccurred())
	})

	It("selects the driver automatically", func() {
		err := CreateSchema(ctx, db)
		Expect(err).ShouldNot(HaveOccurred())

		s := &Store{DB: db}

		err = s.SaveInstance(ctx, persistence.Instance{Key: "<key>"})
		Expect(err).ShouldNot(HaveOccurred())
		Expect(s.Driver).To(Equal(sqlite.Driver))
	})
})
