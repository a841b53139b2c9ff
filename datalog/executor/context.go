package executor

import (
	"time"

	"github.com/wbrown/janus-factdb/datalog/annotations"
	"github.com/wbrown/janus-factdb/datalog/index"
	"github.com/wbrown/janus-factdb/datalog/planner"
	"github.com/wbrown/janus-factdb/datalog/query"
)

// Context provides annotation points for query execution tracking.
type Context interface {
	// Query lifecycle
	QueryBegin(query string)
	QueryPlanned(plan *planner.QueryPlan)
	QueryComplete(tupleCount int, err error)

	// Clause evaluation
	EvaluateClause(clause query.Clause, in *Relation, fn func() (*Relation, error)) (*Relation, error)
	OrBranches(or *query.Or, parallel bool, fn func() (*Relation, error)) (*Relation, error)
	RuleFixpoint(rule string, start time.Time, iterations, tuples int)
	Aggregate(tuplesIn int, fn func() (groups int, err error)) error
	IndexScan(kind index.Kind, datoms int)

	// Get underlying collector
	Collector() *annotations.Collector
}

// BaseContext provides a no-op implementation with zero overhead.
type BaseContext struct{}

// NewContext creates an appropriate context based on whether annotations are needed.
func NewContext(handler annotations.Handler) Context {
	if handler == nil {
		return &BaseContext{}
	}
	return NewAnnotatedContext(annotations.NewCollector(handler))
}

// NewAnnotatedContext records events into an existing collector
func NewAnnotatedContext(c *annotations.Collector) Context {
	if c == nil {
		return &BaseContext{}
	}
	return &AnnotatedContext{collector: c}
}

func (c *BaseContext) QueryBegin(query string) {}

func (c *BaseContext) QueryPlanned(plan *planner.QueryPlan) {}

func (c *BaseContext) QueryComplete(tupleCount int, err error) {}

func (c *BaseContext) EvaluateClause(clause query.Clause, in *Relation, fn func() (*Relation, error)) (*Relation, error) {
	return fn()
}

func (c *BaseContext) OrBranches(or *query.Or, parallel bool, fn func() (*Relation, error)) (*Relation, error) {
	return fn()
}

func (c *BaseContext) RuleFixpoint(rule string, start time.Time, iterations, tuples int) {}

func (c *BaseContext) Aggregate(tuplesIn int, fn func() (int, error)) error {
	_, err := fn()
	return err
}

func (c *BaseContext) IndexScan(kind index.Kind, datoms int) {}

func (c *BaseContext) Collector() *annotations.Collector {
	return nil
}

// AnnotatedContext provides full annotation tracking
type AnnotatedContext struct {
	BaseContext
	collector  *annotations.Collector
	queryStart time.Time
}

func (c *AnnotatedContext) QueryBegin(query string) {
	c.queryStart = time.Now()
	c.collector.Add(annotations.Event{
		Name:  annotations.QueryBegin,
		Start: c.queryStart,
		Data: map[string]interface{}{
			"query": query,
		},
	})
}

func (c *AnnotatedContext) QueryPlanned(plan *planner.QueryPlan) {
	c.collector.AddTiming(annotations.QueryPlanned, c.queryStart, map[string]interface{}{
		"clauses": len(plan.Steps),
		"plan":    plan.String(),
	})
}

func (c *AnnotatedContext) QueryComplete(tupleCount int, err error) {
	data := map[string]interface{}{
		"tuples.count": tupleCount,
		"success":      err == nil,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	c.collector.AddTiming(annotations.QueryComplete, c.queryStart, data)
}

func (c *AnnotatedContext) EvaluateClause(clause query.Clause, in *Relation, fn func() (*Relation, error)) (*Relation, error) {
	start := time.Now()
	out, err := fn()

	data := map[string]interface{}{
		"clause":    clause.String(),
		"tuples.in": in.Size(),
		"success":   err == nil,
	}
	if out != nil {
		data["tuples.out"] = out.Size()
		columns := make([]string, len(out.Columns))
		for i, col := range out.Columns {
			columns[i] = string(col)
		}
		data["columns"] = columns
	}
	if err != nil {
		data["error"] = err.Error()
	}
	c.collector.AddTiming(annotations.ClauseEvaluate, start, data)
	return out, err
}

func (c *AnnotatedContext) OrBranches(or *query.Or, parallel bool, fn func() (*Relation, error)) (*Relation, error) {
	start := time.Now()
	out, err := fn()
	data := map[string]interface{}{
		"branches": len(or.Branches),
		"parallel": parallel,
	}
	if out != nil {
		data["tuples.out"] = out.Size()
	}
	c.collector.AddTiming(annotations.OrBranches, start, data)
	return out, err
}

func (c *AnnotatedContext) RuleFixpoint(rule string, start time.Time, iterations, tuples int) {
	c.collector.AddTiming(annotations.RuleFixpoint, start, map[string]interface{}{
		"rule":       rule,
		"iterations": iterations,
		"tuples.out": tuples,
	})
}

func (c *AnnotatedContext) Aggregate(tuplesIn int, fn func() (int, error)) error {
	start := time.Now()
	groups, err := fn()
	c.collector.AddTiming(annotations.Aggregated, start, map[string]interface{}{
		"tuples.in": tuplesIn,
		"groups":    groups,
		"success":   err == nil,
	})
	return err
}

func (c *AnnotatedContext) IndexScan(kind index.Kind, datoms int) {
	c.collector.Add(annotations.Event{
		Name:  annotations.IndexScan,
		Start: time.Now(),
		End:   time.Now(),
		Data: map[string]interface{}{
			"index":  kind.String(),
			"datoms": datoms,
		},
	})
}

func (c *AnnotatedContext) Collector() *annotations.Collector {
	return c.collector
}
