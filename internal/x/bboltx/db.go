package bboltx

import (
	"context"
	"os"
	"time"

	"github.com/dogmatiq/linger"
	"go.etcd.io/bbolt"
)

// Open opens or creates the database at the given path and ensures that each
// of the root buckets exists.
//
// If mode is zero, 0600 is used. The file lock timeout is bounded by the
// deadline of ctx, if any.
func Open(
	ctx context.Context,
	path string,
	mode os.FileMode,
	opts *bbolt.Options,
	roots ...[]byte,
) (_ *bbolt.DB, err error) {
	if mode == 0 {
		mode = 0600
	}

	// A non-positive timeout means "wait forever" to BoltDB, so an ended
	// context must be handled here.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if timeout, ok := linger.FromContextDeadline(ctx); ok {
		opts = withTimeout(opts, timeout)
	}

	db, err := bbolt.Open(path, mode, opts)
	if err != nil {
		if err == bbolt.ErrTimeout {
			err = context.DeadlineExceeded
		}
		return nil, err
	}

	if len(roots) == 0 {
		return db, nil
	}

	err = db.Update(func(tx *bbolt.Tx) (err error) {
		defer Recover(&err)

		for _, n := range roots {
			CreateBucketIfNotExists(tx, n)
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// withTimeout returns a copy of opts with a lock timeout no longer than d.
func withTimeout(opts *bbolt.Options, d time.Duration) *bbolt.Options {
	var clone bbolt.Options

	if opts == nil {
		clone = *bbolt.DefaultOptions
	} else {
		if opts.Timeout > 0 && opts.Timeout <= d {
			return opts
		}
		clone = *opts
	}

	clone.Timeout = d

	return &clone
}
