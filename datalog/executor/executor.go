// Package executor evaluates parsed Datalog queries against database
// values and collection sources.
//
// Evaluation is relational: every clause maps the relation of bindings
// built so far to a new one (natural join for data patterns, rule calls
// and or, anti-join for not, per-tuple calls for predicates and
// functions). Rules are tabled and iterated to a fixpoint.
package executor

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/annotations"
	"github.com/wbrown/janus-factdb/datalog/parser"
	"github.com/wbrown/janus-factdb/datalog/planner"
	"github.com/wbrown/janus-factdb/datalog/query"
	"go.uber.org/zap"
)

// DefaultMaxRuleIterations bounds the fixpoint iteration of one rule call
const DefaultMaxRuleIterations = 10000

// Options configures an Executor
type Options struct {
	// Timeout bounds every query; zero leaves it to the caller's context
	Timeout time.Duration
	// Parallel evaluates the branches of an or concurrently
	Parallel bool
	// Workers bounds parallel branch evaluation (0 = NumCPU)
	Workers int
	// MaxRuleIterations bounds the fixpoint iteration of a rule call
	MaxRuleIterations int
	// Cache holds parsed queries by text; nil disables caching
	Cache *planner.QueryCache
	// Annotations receives query events; nil disables them
	Annotations annotations.Handler
	// Seed makes rand and sample deterministic when non-zero
	Seed   uint64
	Logger *zap.Logger
}

// Executor runs queries. It is safe for concurrent use.
type Executor struct {
	opts Options
	pool *WorkerPool

	mu        sync.RWMutex
	functions map[string]Func
	planner   *planner.Planner
}

// NewExecutor creates an executor with the built-in functions
func NewExecutor(opts Options) *Executor {
	if opts.MaxRuleIterations <= 0 {
		opts.MaxRuleIterations = DefaultMaxRuleIterations
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Executor{
		opts:      opts,
		pool:      NewWorkerPool(opts.Workers),
		functions: builtinFunctions,
		planner:   planner.NewPlanner(planner.PlannerOptions{Functions: query.DefaultRegistry}),
	}
}

var defaultExecutor = NewExecutor(Options{Parallel: true})

// Q runs a query with the default executor and returns its result shaped
// by the find spec: [][]interface{} for a relation, []interface{} for a
// collection, []interface{} or nil for a tuple, a value or nil for a
// scalar. query may be EDN text, query data or a *query.Query.
func Q(ctx context.Context, q interface{}, inputs ...interface{}) (interface{}, error) {
	return defaultExecutor.Q(ctx, q, inputs...)
}

// RegisterFunction makes a pure function callable from where clauses.
// Built-in names cannot be replaced.
func (e *Executor) RegisterFunction(name string, fn UserFunction) error {
	if _, ok := builtinFunctions[name]; ok {
		return datalog.Queryf("function '%s' is built in", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	functions := make(map[string]Func, len(e.functions)+1)
	for k, v := range e.functions {
		functions[k] = v
	}
	functions[name] = func(_ context.Context, args []interface{}) (interface{}, error) {
		return fn(args...)
	}
	registry := e.planner.Options().Functions.Clone()
	registry.Register(query.FunctionMetadata{Name: name, MaxArgs: -1, Description: "user function"})

	e.functions = functions
	e.planner = planner.NewPlanner(planner.PlannerOptions{Functions: registry})
	return nil
}

// Functions returns the names of every callable function
func (e *Executor) Functions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.planner.Options().Functions.Names()
}

// Q runs a query and shapes its result by the find spec
func (e *Executor) Q(ctx context.Context, q interface{}, inputs ...interface{}) (interface{}, error) {
	res, err := e.Query(ctx, q, inputs...)
	if err != nil {
		return nil, err
	}
	return res.Value(), nil
}

// Parse turns query text or data into a query, using the cache
func (e *Executor) Parse(q interface{}) (*query.Query, error) {
	switch v := q.(type) {
	case *query.Query:
		return v, nil
	case query.Query:
		return &v, nil
	}
	key, cacheable := planner.Key(q)
	if cacheable {
		if cached, ok := e.opts.Cache.Get(key); ok {
			return cached, nil
		}
	}
	parsed, err := parser.ParseData(q)
	if err != nil {
		return nil, err
	}
	if cacheable {
		e.opts.Cache.Set(key, parsed)
	}
	return parsed, nil
}

// Explain validates a query against its inputs and returns its plan
// without running it
func (e *Executor) Explain(q interface{}, inputs ...interface{}) (*planner.QueryPlan, error) {
	parsed, err := e.Parse(q)
	if err != nil {
		return nil, err
	}
	in := planner.DefaultInputs(parsed, len(inputs))
	x := e.newExecution(context.Background(), &BaseContext{})
	if _, err := x.bindInputs(in, inputs); err != nil {
		return nil, err
	}
	return x.planner.Plan(parsed, in, x.rules)
}

// Query runs a query and returns the full result
func (e *Executor) Query(ctx context.Context, q interface{}, inputs ...interface{}) (res *Result, err error) {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}
	actx := NewContext(e.opts.Annotations)
	start := time.Now()

	parsed, err := e.Parse(q)
	if err != nil {
		return nil, err
	}
	actx.QueryBegin(parsed.String())
	defer func() {
		count := 0
		if res != nil {
			count = len(res.Rows)
		}
		actx.QueryComplete(count, err)
		if err != nil {
			e.opts.Logger.Debug("query failed", zap.Stringer("query", parsed), zap.Error(err))
		} else {
			e.opts.Logger.Debug("query complete", zap.Int("rows", count), zap.Duration("elapsed", time.Since(start)))
		}
	}()

	x := e.newExecution(ctx, actx)
	in := planner.DefaultInputs(parsed, len(inputs))
	rel, err := x.bindInputs(in, inputs)
	if err != nil {
		return nil, err
	}
	plan, err := x.planner.Plan(parsed, in, x.rules)
	if err != nil {
		return nil, err
	}
	actx.QueryPlanned(plan)

	for _, step := range plan.Steps {
		if rel, err = x.evalClause(rel, step.Clause, topScope); err != nil {
			return nil, err
		}
	}
	if err := datalog.CheckContext(ctx, parsed.Find.String()); err != nil {
		return nil, err
	}
	return x.project(rel, parsed)
}

func (e *Executor) newExecution(ctx context.Context, actx Context) *execution {
	e.mu.RLock()
	functions, p := e.functions, e.planner
	e.mu.RUnlock()

	seed := e.opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &execution{
		ex:        e,
		ctx:       ctx,
		actx:      actx,
		functions: functions,
		planner:   p,
		sources:   make(map[query.Symbol]interface{}),
		scalars:   make(map[query.Symbol]interface{}),
		tables:    newTabling(),
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Result is an evaluated query before shaping
type Result struct {
	Find    query.FindSpec
	Columns []string
	Rows    [][]interface{}
}

// Value shapes the rows by the find spec
func (r *Result) Value() interface{} {
	switch r.Find.Kind {
	case query.FindColl:
		out := make([]interface{}, len(r.Rows))
		for i, row := range r.Rows {
			out[i] = row[0]
		}
		return out
	case query.FindTuple:
		if len(r.Rows) == 0 {
			return nil
		}
		return r.Rows[0]
	case query.FindScalar:
		if len(r.Rows) == 0 {
			return nil
		}
		return r.Rows[0][0]
	}
	if r.Rows == nil {
		return [][]interface{}{}
	}
	return r.Rows
}

// Table renders the rows as a markdown table
func (r *Result) Table() string {
	return NewTableFormatter().FormatRows(r.Columns, r.Rows)
}

func (r *Result) String() string {
	return fmt.Sprintf("%d rows of %s", len(r.Rows), r.Find)
}
