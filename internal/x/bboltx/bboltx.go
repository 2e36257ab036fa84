// Package bboltx contains BoltDB helpers used by the BoltDB persistence store.
//
// Functions that can fail panic with an error that is converted back into a
// regular return value by a deferred call to Recover().
package bboltx

// failure wraps errors raised by Must().
type failure struct {
	err error
}

// Must panics if err is non-nil.
func Must(err error) {
	if err != nil {
		panic(failure{err})
	}
}

// Recover assigns the error raised by Must() to *err.
//
// It must be called directly by a defer statement. Panics not raised by
// Must() are propagated.
func Recover(err *error) {
	if err == nil {
		panic("err must be a non-nil pointer")
	}

	switch v := recover().(type) {
	case nil:
	case failure:
		*err = v.err
	default:
		panic(v)
	}
}
