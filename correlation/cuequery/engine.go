// Package cuequery is a correlation engine that evaluates CUE path expressions
// against JSON request bodies.
package cuequery

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/dogmatiq/harbor/correlation"
)

// AnyAction is the Filter.Action value that matches every request.
const AnyAction = "*"

// Filter associates a correlation rule set with the requests it applies to.
type Filter struct {
	// Action is the request action the filter applies to, or AnyAction.
	Action string

	// Rules is the rule set used for matching requests.
	Rules correlation.RuleSet
}

// Engine is an implementation of correlation.Engine that treats each query's
// expression as a CUE path into the request body.
//
// Request bodies must be JSON (or CUE) documents.
type Engine struct {
	// Filters is the ordered list of filters. The first filter that matches a
	// request determines its rule set.
	Filters []Filter

	// contexts is a pool of *cue.Context. A context is not safe for
	// concurrent use, so each call to Evaluate() takes its own.
	contexts sync.Pool
}

// Match returns the rule set of the first filter that applies to m.
func (e *Engine) Match(m correlation.Message) (correlation.RuleSet, bool) {
	for _, f := range e.Filters {
		if f.Action == AnyAction || f.Action == m.Action {
			return f.Rules, true
		}
	}

	return correlation.RuleSet{}, false
}

// Evaluate runs each query in qs against m.
//
// If readHeaders is true, a query whose expression names a header present in
// m.Headers is answered from that header without parsing the body. Paths that
// do not exist in the body produce an empty value.
func (e *Engine) Evaluate(
	qs correlation.QuerySet,
	m correlation.Message,
	readHeaders bool,
) ([]correlation.Result, error) {
	results := make([]correlation.Result, 0, len(qs))

	var (
		ctx    *cue.Context
		root   cue.Value
		parsed bool
	)

	defer func() {
		if ctx != nil {
			e.contexts.Put(ctx)
		}
	}()

	for _, q := range qs {
		if readHeaders {
			if v, ok := m.Headers[q.Expr]; ok {
				results = append(results, correlation.Result{Query: q, Value: v})
				continue
			}
		}

		if !parsed {
			var err error
			ctx = e.context()
			root, err = parse(ctx, m.Body)
			if err != nil {
				return nil, err
			}
			parsed = true
		}

		v, err := lookup(root, q.Expr)
		if err != nil {
			return nil, err
		}

		results = append(results, correlation.Result{Query: q, Value: v})
	}

	return results, nil
}

// context returns a CUE context for the exclusive use of the caller. It must be
// returned to e.contexts when the caller is finished with the values it
// produced.
func (e *Engine) context() *cue.Context {
	if c, ok := e.contexts.Get().(*cue.Context); ok {
		return c
	}

	return cuecontext.New()
}

// parse compiles the request body within ctx.
func parse(ctx *cue.Context, body []byte) (cue.Value, error) {
	if len(body) == 0 {
		body = []byte("{}")
	}

	v := ctx.CompileBytes(body)
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("unable to parse request body: %w", err)
	}

	return v, nil
}

// lookup returns the string form of the value at the given path within root.
//
// It returns an empty string if the path does not exist or the value is not
// concrete.
func lookup(root cue.Value, expr string) (string, error) {
	p := cue.ParsePath(expr)
	if err := p.Err(); err != nil {
		return "", fmt.Errorf("invalid correlation query '%s': %w", expr, err)
	}

	v := root.LookupPath(p)
	if !v.Exists() || !v.IsConcrete() {
		return "", nil
	}

	switch v.Kind() {
	case cue.StringKind:
		return v.String()
	case cue.NullKind:
		return "", nil
	case cue.StructKind, cue.ListKind:
		return "", fmt.Errorf("correlation query '%s' does not refer to a scalar value", expr)
	default:
		data, err := v.MarshalJSON()
		return string(data), err
	}
}
