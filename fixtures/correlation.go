package fixtures

import (
	"github.com/dogmatiq/harbor/correlation"
)

// EngineStub is a test implementation of the correlation.Engine interface.
//
// If neither the Func fields nor the embedded engine are set, every request
// matches Rules (when it has a primary query set) and each query is answered
// from the request header named by its expression.
type EngineStub struct {
	correlation.Engine

	Rules correlation.RuleSet

	MatchFunc    func(correlation.Message) (correlation.RuleSet, bool)
	EvaluateFunc func(correlation.QuerySet, correlation.Message, bool) ([]correlation.Result, error)
}

// Match returns the rule set that applies to m.
func (e *EngineStub) Match(m correlation.Message) (correlation.RuleSet, bool) {
	if e.MatchFunc != nil {
		return e.MatchFunc(m)
	}

	if e.Engine != nil {
		return e.Engine.Match(m)
	}

	return e.Rules, len(e.Rules.Primary) > 0
}

// Evaluate runs each query in qs against m.
func (e *EngineStub) Evaluate(
	qs correlation.QuerySet,
	m correlation.Message,
	readHeaders bool,
) ([]correlation.Result, error) {
	if e.EvaluateFunc != nil {
		return e.EvaluateFunc(qs, m, readHeaders)
	}

	if e.Engine != nil {
		return e.Engine.Evaluate(qs, m, readHeaders)
	}

	var results []correlation.Result
	for _, q := range qs {
		results = append(results, correlation.Result{
			Query: q,
			Value: m.Headers[q.Expr],
		})
	}

	return results, nil
}
