package correlation_test

import (
	. "github.com/dogmatiq/harbor/correlation"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Cache", func() {
	var cache *Cache

	BeforeEach(func() {
		cache = &Cache{}
	})

	Describe("func GetOrCreate()", func() {
		It("returns the same instance for independently built mappings", func() {
			a := cache.GetOrCreate("<scope>", map[string]string{"a": "1"})
			b := cache.GetOrCreate("<scope>", map[string]string{"a": "1"})

			Expect(a).To(BeIdenticalTo(b))
			Expect(cache.Len()).To(Equal(1))
		})

		It("caches mappings with up to 3 values", func() {
			values := map[string]string{"a": "1", "b": "2", "c": "3"}

			a := cache.GetOrCreate("<scope>", values)
			b := cache.GetOrCreate("<scope>", values)

			Expect(a).To(BeIdenticalTo(b))
		})

		It("never caches mappings with more than 3 values", func() {
			values := map[string]string{"a": "1", "b": "2", "c": "3", "d": "4"}

			a := cache.GetOrCreate("<scope>", values)
			b := cache.GetOrCreate("<scope>", values)

			Expect(a).NotTo(BeIdenticalTo(b))
			Expect(a.Equal(b)).To(BeTrue())
			Expect(cache.Len()).To(Equal(0))

			_, ok := cache.Lookup("<scope>", values)
			Expect(ok).To(BeFalse())
		})

		It("distinguishes keys by scope", func() {
			a := cache.GetOrCreate("<scope-a>", map[string]string{"a": "1"})
			b := cache.GetOrCreate("<scope-b>", map[string]string{"a": "1"})

			Expect(a).NotTo(BeIdenticalTo(b))
		})

		It("evicts the least recently used key when full", func() {
			cache.Capacity = 1

			a := cache.GetOrCreate("<scope>", map[string]string{"a": "1"})
			cache.GetOrCreate("<scope>", map[string]string{"b": "2"})

			_, ok := cache.Lookup("<scope>", map[string]string{"a": "1"})
			Expect(ok).To(BeFalse())

			Expect(cache.GetOrCreate("<scope>", map[string]string{"a": "1"})).NotTo(BeIdenticalTo(a))
		})

		It("does not cache when the cache is nil", func() {
			var c *Cache

			a := c.GetOrCreate("<scope>", map[string]string{"a": "1"})
			b := c.GetOrCreate("<scope>", map[string]string{"a": "1"})

			Expect(a).NotTo(BeIdenticalTo(b))
			Expect(c.Len()).To(Equal(0))
		})
	})

	Describe("func Lookup()", func() {
		It("returns the cached key", func() {
			k := cache.GetOrCreate("<scope>", map[string]string{"a": "1"})

			x, ok := cache.Lookup("<scope>", map[string]string{"a": "1"})
			Expect(ok).To(BeTrue())
			Expect(x).To(BeIdenticalTo(k))
		})
	})
})
