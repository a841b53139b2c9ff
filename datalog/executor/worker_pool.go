package executor

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// WorkerPool runs independent evaluations (or branches) concurrently with
// a bounded number of goroutines
type WorkerPool struct {
	workerCount int
}

// NewWorkerPool creates a new worker pool
// workerCount: number of worker goroutines (0 = use NumCPU)
func NewWorkerPool(workerCount int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	return &WorkerPool{
		workerCount: workerCount,
	}
}

// ExecuteParallel executes operation on all inputs using the pool.
// Results are returned in the same order as inputs. The first failure
// cancels the context handed to the remaining operations.
func (p *WorkerPool) ExecuteParallel(
	ctx context.Context,
	inputs []interface{},
	operation func(context.Context, interface{}) (interface{}, error),
) ([]interface{}, error) {
	if len(inputs) == 0 {
		return []interface{}{}, nil
	}

	results := make([]interface{}, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workerCount)
	for i := range inputs {
		i := i
		g.Go(func() error {
			result, err := operation(gctx, inputs[i])
			if err != nil {
				return fmt.Errorf("parallel execution failed at index %d: %w", i, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// GetWorkerCount returns the number of worker goroutines
func (p *WorkerPool) GetWorkerCount() int {
	return p.workerCount
}
