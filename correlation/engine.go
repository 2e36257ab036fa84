package correlation

// Message is the content of an inbound request that is inspected to compute
// its correlation keys.
type Message struct {
	// Action identifies the operation the request is invoking. Engines
	// typically use it to select a rule set.
	Action string

	// Headers contains request headers that have already been parsed by the
	// transport.
	Headers map[string]string

	// Body is the raw request payload.
	Body []byte
}

// Engine matches requests against configured correlation rules and extracts
// the values that identify the target instance.
type Engine interface {
	// Match returns the rule set that applies to m.
	//
	// ok is false if no rule applies, in which case m is not correlatable.
	Match(m Message) (rs RuleSet, ok bool)

	// Evaluate runs each query in qs against m.
	//
	// If readHeaders is true the engine may satisfy a query directly from
	// m.Headers instead of inspecting the body.
	Evaluate(qs QuerySet, m Message, readHeaders bool) ([]Result, error)
}

// RuleSet is the set of queries that produce the correlation keys for a
// request.
type RuleSet struct {
	// Primary is the query set that produces the primary key.
	Primary QuerySet

	// Additional is a set of named query sets, each of which produces at most
	// one additional key.
	Additional map[string]QuerySet

	// ReadHeaders indicates that queries may be answered from parsed headers.
	ReadHeaders bool
}

// QuerySet is an ordered list of queries.
type QuerySet []Query

// Query is a single value extraction.
type Query struct {
	// Name is the name of the value within the correlation key.
	Name string

	// Expr is the engine-specific expression that locates the value.
	Expr string

	// Optional is true if the query is permitted to produce no value.
	Optional bool
}

// Result is the outcome of evaluating a single query.
type Result struct {
	Query Query
	Value string
}
