package executor

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_OrderPreserving(t *testing.T) {
	pool := NewWorkerPool(4)

	inputs := make([]interface{}, 100)
	for i := 0; i < 100; i++ {
		inputs[i] = i
	}

	results, err := pool.ExecuteParallel(context.Background(), inputs, func(_ context.Context, input interface{}) (interface{}, error) {
		return input.(int) * 2, nil
	})
	require.NoError(t, err)
	require.Len(t, results, 100)
	for i, result := range results {
		assert.Equal(t, i*2, result)
	}
}

func TestWorkerPool_ErrorHandling(t *testing.T) {
	pool := NewWorkerPool(4)

	inputs := make([]interface{}, 10)
	for i := 0; i < 10; i++ {
		inputs[i] = i
	}

	results, err := pool.ExecuteParallel(context.Background(), inputs, func(_ context.Context, input interface{}) (interface{}, error) {
		if input.(int) == 5 {
			return nil, fmt.Errorf("intentional error at %d", input)
		}
		return input, nil
	})
	require.Error(t, err)
	assert.Nil(t, results)
	assert.Equal(t, "parallel execution failed at index 5: intentional error at 5", err.Error())
}

func TestWorkerPool_EmptyInput(t *testing.T) {
	results, err := NewWorkerPool(4).ExecuteParallel(context.Background(), nil, func(_ context.Context, input interface{}) (interface{}, error) {
		return input, nil
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestWorkerPool_WorkerCount(t *testing.T) {
	tests := []struct {
		name          string
		workerCount   int
		expectedCount int
	}{
		{"explicit_count", 8, 8},
		{"zero_uses_default", 0, runtime.NumCPU()},
		{"negative_uses_default", -5, runtime.NumCPU()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedCount, NewWorkerPool(tt.workerCount).GetWorkerCount())
		})
	}
}

func TestWorkerPool_BoundedConcurrency(t *testing.T) {
	pool := NewWorkerPool(3)

	var maxConcurrent, current int32
	inputs := make([]interface{}, 20)
	for i := range inputs {
		inputs[i] = i
	}

	_, err := pool.ExecuteParallel(context.Background(), inputs, func(_ context.Context, input interface{}) (interface{}, error) {
		n := atomic.AddInt32(&current, 1)
		for {
			max := atomic.LoadInt32(&maxConcurrent)
			if n <= max || atomic.CompareAndSwapInt32(&maxConcurrent, max, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return input, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxConcurrent), int32(3))
}

func TestWorkerPool_FailureCancelsOthers(t *testing.T) {
	pool := NewWorkerPool(2)
	inputs := []interface{}{0, 1}

	_, err := pool.ExecuteParallel(context.Background(), inputs, func(ctx context.Context, input interface{}) (interface{}, error) {
		if input.(int) == 0 {
			return nil, fmt.Errorf("boom")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return nil, fmt.Errorf("not canceled")
		}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
