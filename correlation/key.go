package correlation

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Key identifies a target process instance.
//
// Keys are compared by content. Two keys built from the same scope and values
// are equal and have the same hash regardless of how they were constructed.
// Keys are immutable.
type Key struct {
	scope     string
	name      string
	pairs     []pair
	canonical string
	hash      uint64
}

type pair struct {
	Name, Value string
}

// NewKey returns a new primary key with the given scope and values.
func NewKey(scope string, values map[string]string) *Key {
	return newKey(scope, "", values)
}

// NewAdditionalKey returns a new additional key tagged with the given name.
//
// The name does not participate in equality.
func NewAdditionalKey(name, scope string, values map[string]string) *Key {
	return newKey(scope, name, values)
}

func newKey(scope, name string, values map[string]string) *Key {
	pairs := sortedPairs(values)

	k := &Key{
		scope:     scope,
		name:      name,
		pairs:     pairs,
		canonical: canonical(scope, pairs),
	}

	k.hash = k.computeHash()

	return k
}

func (k *Key) computeHash() uint64 {
	return xxhash.Sum64String(k.canonical)
}

// Scope returns the correlation scope of the key.
func (k *Key) Scope() string {
	return k.scope
}

// Name returns the name tag of an additional key, or an empty string for a
// primary key.
func (k *Key) Name() string {
	return k.name
}

// Len returns the number of values in the key.
func (k *Key) Len() int {
	return len(k.pairs)
}

// Values returns a copy of the key's values.
func (k *Key) Values() map[string]string {
	values := make(map[string]string, len(k.pairs))
	for _, p := range k.pairs {
		values[p.Name] = p.Value
	}
	return values
}

// Canonical returns the canonical string form of the key.
//
// Equal keys have identical canonical forms, making it suitable for use as a
// map key.
func (k *Key) Canonical() string {
	return k.canonical
}

// Hash returns a hash of the key's scope and values.
func (k *Key) Hash() uint64 {
	return k.hash
}

// Equal returns true if k and o have the same scope and values.
func (k *Key) Equal(o *Key) bool {
	if k == o {
		return true
	}

	if k == nil || o == nil {
		return false
	}

	return k.hash == o.hash && k.canonical == o.canonical
}

func (k *Key) String() string {
	if k.name == "" {
		return k.canonical
	}

	return k.name + ":" + k.canonical
}

func sortedPairs(values map[string]string) []pair {
	pairs := make([]pair, 0, len(values))
	for n, v := range values {
		pairs = append(pairs, pair{n, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Name < pairs[j].Name
	})

	return pairs
}

// canonical returns the canonical string form of the given scope and sorted
// pairs.
func canonical(scope string, pairs []pair) string {
	var b strings.Builder

	b.WriteString(strconv.Quote(scope))
	b.WriteByte('{')

	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(',')
		}

		b.WriteString(strconv.Quote(p.Name))
		b.WriteByte('=')
		b.WriteString(strconv.Quote(p.Value))
	}

	b.WriteByte('}')

	return b.String()
}
