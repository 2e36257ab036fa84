package correlation

import (
	"sort"
)

// Calculator computes the correlation keys of values of type T.
//
// It holds no per-call state and is safe for concurrent use.
type Calculator[T any] struct {
	// Engine evaluates correlation queries.
	Engine Engine

	// Scope is the correlation scope of every key produced by the calculator.
	Scope string

	// Cache is used to share primary key instances between requests. It may be
	// nil.
	Cache *Cache

	// Read extracts the correlatable content from a value.
	Read func(T) (Message, error)
}

// MessageCalculator is a calculator that operates directly on request
// messages.
type MessageCalculator = Calculator[Message]

// NewCalculator returns a calculator that uses read to obtain the content of
// each value.
func NewCalculator[T any](
	e Engine,
	scope string,
	cache *Cache,
	read func(T) (Message, error),
) *Calculator[T] {
	return &Calculator[T]{
		Engine: e,
		Scope:  scope,
		Cache:  cache,
		Read:   read,
	}
}

// NewMessageCalculator returns a calculator that operates directly on request
// messages.
func NewMessageCalculator(e Engine, scope string, cache *Cache) *MessageCalculator {
	return NewCalculator(
		e,
		scope,
		cache,
		func(m Message) (Message, error) {
			return m, nil
		},
	)
}

// CalculateKeys computes the correlation keys for v.
//
// found is false if no correlation rule applies to v. If a rule applies but
// all of its primary queries are optional and produced no value, found is true
// and primary is nil.
//
// Additional keys are returned in order of their names.
//
// It returns a *ProtocolError if a non-optional query produces no value.
func (c *Calculator[T]) CalculateKeys(v T) (
	found bool,
	primary *Key,
	additional []*Key,
	err error,
) {
	m, err := c.Read(v)
	if err != nil {
		return false, nil, nil, err
	}

	rs, ok := c.Engine.Match(m)
	if !ok {
		return false, nil, nil, nil
	}

	values, err := c.evaluate("", rs.Primary, m, rs.ReadHeaders)
	if err != nil {
		return false, nil, nil, err
	}

	if len(values) > 0 {
		primary = c.Cache.GetOrCreate(c.Scope, values)
	}

	names := make([]string, 0, len(rs.Additional))
	for n := range rs.Additional {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		values, err := c.evaluate(n, rs.Additional[n], m, rs.ReadHeaders)
		if err != nil {
			return false, nil, nil, err
		}

		if len(values) > 0 {
			additional = append(
				additional,
				NewAdditionalKey(n, c.Scope, values),
			)
		}
	}

	return true, primary, additional, nil
}

// evaluate runs the queries in qs against m and returns the non-empty values
// they produce, indexed by query name.
func (c *Calculator[T]) evaluate(
	keyName string,
	qs QuerySet,
	m Message,
	readHeaders bool,
) (map[string]string, error) {
	if len(qs) == 0 {
		return nil, nil
	}

	results, err := c.Engine.Evaluate(qs, m, readHeaders)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(qs))
	for _, r := range results {
		if r.Value != "" {
			values[r.Query.Name] = r.Value
		}
	}

	for _, q := range qs {
		if q.Optional {
			continue
		}

		if _, ok := values[q.Name]; !ok {
			return nil, &ProtocolError{
				Scope:   c.Scope,
				KeyName: keyName,
				Query:   q.Name,
			}
		}
	}

	return values, nil
}
