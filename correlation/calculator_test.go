package correlation_test

import (
	"errors"

	. "github.com/dogmatiq/harbor/correlation"
	"github.com/dogmatiq/harbor/fixtures"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Calculator", func() {
	var (
		engine  *fixtures.EngineStub
		cache   *Cache
		calc    *MessageCalculator
		message Message
	)

	BeforeEach(func() {
		engine = &fixtures.EngineStub{
			Rules: RuleSet{
				Primary: QuerySet{
					{Name: "a", Expr: "x-a"},
				},
			},
		}

		cache = &Cache{}
		calc = NewMessageCalculator(engine, "<scope>", cache)

		message = Message{
			Action: "<action>",
			Headers: map[string]string{
				"x-a": "1",
				"x-b": "2",
			},
		}
	})

	Describe("func CalculateKeys()", func() {
		It("returns false if no rule matches", func() {
			engine.Rules = RuleSet{}

			found, primary, additional, err := calc.CalculateKeys(message)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(found).To(BeFalse())
			Expect(primary).To(BeNil())
			Expect(additional).To(BeEmpty())
		})

		It("returns the primary key", func() {
			found, primary, _, err := calc.CalculateKeys(message)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(primary.Scope()).To(Equal("<scope>"))
			Expect(primary.Values()).To(Equal(map[string]string{"a": "1"}))
		})

		It("returns the same cached key for requests with the same content", func() {
			_, a, _, err := calc.CalculateKeys(message)
			Expect(err).ShouldNot(HaveOccurred())

			_, b, _, err := calc.CalculateKeys(Message{
				Headers: map[string]string{"x-a": "1"},
			})
			Expect(err).ShouldNot(HaveOccurred())

			Expect(a).To(BeIdenticalTo(b))
		})

		It("does not cache keys with more than 3 values", func() {
			engine.Rules.Primary = QuerySet{
				{Name: "a", Expr: "x-a"},
				{Name: "b", Expr: "x-b"},
				{Name: "c", Expr: "x-c"},
				{Name: "d", Expr: "x-d"},
			}
			message.Headers["x-c"] = "3"
			message.Headers["x-d"] = "4"

			_, a, _, err := calc.CalculateKeys(message)
			Expect(err).ShouldNot(HaveOccurred())

			_, b, _, err := calc.CalculateKeys(message)
			Expect(err).ShouldNot(HaveOccurred())

			Expect(a).NotTo(BeIdenticalTo(b))
			Expect(a.Equal(b)).To(BeTrue())
		})

		It("returns a protocol error if a required value is missing", func() {
			delete(message.Headers, "x-a")

			_, _, _, err := calc.CalculateKeys(message)
			Expect(err).To(Equal(&ProtocolError{
				Scope: "<scope>",
				Query: "a",
			}))
		})

		It("skips optional queries that produce no value", func() {
			engine.Rules.Primary = append(
				engine.Rules.Primary,
				Query{Name: "z", Expr: "x-z", Optional: true},
			)

			_, primary, _, err := calc.CalculateKeys(message)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(primary.Values()).To(Equal(map[string]string{"a": "1"}))
		})

		It("does not produce a primary key if all queries are optional and empty", func() {
			engine.Rules.Primary = QuerySet{
				{Name: "z", Expr: "x-z", Optional: true},
			}

			found, primary, _, err := calc.CalculateKeys(message)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(primary).To(BeNil())
		})

		It("returns additional keys in name order", func() {
			engine.Rules.Additional = map[string]QuerySet{
				"<second>": {{Name: "b", Expr: "x-b"}},
				"<first>":  {{Name: "a", Expr: "x-a"}},
				"<empty>":  {{Name: "z", Expr: "x-z", Optional: true}},
			}

			_, _, additional, err := calc.CalculateKeys(message)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(additional).To(HaveLen(2))
			Expect(additional[0].Name()).To(Equal("<first>"))
			Expect(additional[1].Name()).To(Equal("<second>"))
		})

		It("does not cache additional keys", func() {
			engine.Rules.Additional = map[string]QuerySet{
				"<name>": {{Name: "b", Expr: "x-b"}},
			}

			_, _, a, err := calc.CalculateKeys(message)
			Expect(err).ShouldNot(HaveOccurred())

			_, _, b, err := calc.CalculateKeys(message)
			Expect(err).ShouldNot(HaveOccurred())

			Expect(a[0]).NotTo(BeIdenticalTo(b[0]))
			Expect(cache.Len()).To(Equal(1))
		})

		It("returns a protocol error naming the additional key", func() {
			engine.Rules.Additional = map[string]QuerySet{
				"<name>": {{Name: "z", Expr: "x-z"}},
			}

			_, _, _, err := calc.CalculateKeys(message)
			Expect(err).To(MatchError(
				"the request does not contain a value for the required correlation query 'z' of the '<name>' key in scope '<scope>'",
			))
		})

		It("returns an error if the engine fails", func() {
			engine.EvaluateFunc = func(QuerySet, Message, bool) ([]Result, error) {
				return nil, errors.New("<error>")
			}

			_, _, _, err := calc.CalculateKeys(message)
			Expect(err).To(MatchError("<error>"))
		})

		It("passes the read-headers flag to the engine", func() {
			engine.Rules.ReadHeaders = true

			var flag bool
			engine.EvaluateFunc = func(qs QuerySet, _ Message, readHeaders bool) ([]Result, error) {
				flag = readHeaders
				return []Result{{Query: qs[0], Value: "1"}}, nil
			}

			_, _, _, err := calc.CalculateKeys(message)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(flag).To(BeTrue())
		})
	})

	Describe("func NewCalculator()", func() {
		It("uses the read strategy to obtain the message", func() {
			type envelope struct {
				message Message
			}

			c := NewCalculator(
				engine,
				"<scope>",
				cache,
				func(e *envelope) (Message, error) {
					return e.message, nil
				},
			)

			_, primary, _, err := c.CalculateKeys(&envelope{message})
			Expect(err).ShouldNot(HaveOccurred())
			Expect(primary.Values()).To(Equal(map[string]string{"a": "1"}))
		})

		It("returns an error if the read strategy fails", func() {
			c := NewCalculator(
				engine,
				"<scope>",
				cache,
				func(string) (Message, error) {
					return Message{}, errors.New("<error>")
				},
			)

			_, _, _, err := c.CalculateKeys("<value>")
			Expect(err).To(MatchError("<error>"))
		})
	})
})
