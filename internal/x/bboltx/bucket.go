package bboltx

import "go.etcd.io/bbolt"

// BucketParent is implemented by *bbolt.Tx and *bbolt.Bucket, both of which
// contain buckets.
type BucketParent interface {
	CreateBucketIfNotExists([]byte) (*bbolt.Bucket, error)
	Bucket([]byte) *bbolt.Bucket
}

var (
	_ BucketParent = (*bbolt.Tx)(nil)
	_ BucketParent = (*bbolt.Bucket)(nil)
)

// CreateBucketIfNotExists creates nested buckets with names given by the
// elements of path.
func CreateBucketIfNotExists(p BucketParent, path ...[]byte) *bbolt.Bucket {
	if len(path) == 0 {
		panic("at least one path element must be provided")
	}

	var (
		b   *bbolt.Bucket
		err error
	)

	for _, n := range path {
		b, err = p.CreateBucketIfNotExists(n)
		Must(err)

		p = b
	}

	return b
}

// Bucket gets nested buckets with names given by the elements of path.
//
// It returns nil if any of the nested buckets does not exist.
func Bucket(p BucketParent, path ...[]byte) (b *bbolt.Bucket) {
	if len(path) == 0 {
		panic("at least one path element must be provided")
	}

	for _, n := range path {
		b = p.Bucket(n)
		if b == nil {
			return nil
		}

		p = b
	}

	return b
}

// DeleteBucket deletes the bucket named k within b, if it exists.
func DeleteBucket(b *bbolt.Bucket, k []byte) {
	if b.Bucket(k) != nil {
		Must(b.DeleteBucket(k))
	}
}

// Put writes a value to a bucket.
func Put(b *bbolt.Bucket, k, v []byte) {
	err := b.Put(k, v)
	Must(err)
}

// Keys returns the keys of the non-bucket values in b.
func Keys(b *bbolt.Bucket) [][]byte {
	var keys [][]byte

	Must(b.ForEach(func(k, _ []byte) error {
		if b.Bucket(k) == nil {
			keys = append(keys, append([]byte(nil), k...))
		}
		return nil
	}))

	return keys
}
