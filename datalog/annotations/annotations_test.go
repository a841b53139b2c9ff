package annotations

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.False(t, c.Enabled())
	c.Add(Event{Name: QueryBegin})
	c.AddTiming(QueryComplete, time.Now(), nil)
	assert.Empty(t, c.Events())
}

func TestCollectorConcurrentAdd(t *testing.T) {
	var seen int
	var mu sync.Mutex
	c := NewCollector(func(Event) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.AddTiming(ClauseEvaluate, time.Now(), map[string]interface{}{"tuples.in": j})
			}
		}()
	}
	wg.Wait()

	assert.Len(t, c.Events(), 800)
	assert.Equal(t, 800, seen)
	assert.Len(t, c.Named(ClauseEvaluate), 800)
	c.Reset()
	assert.Empty(t, c.Events())
}

func TestOutputFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewOutputFormatter(&buf)

	f.Handle(Event{Name: QueryBegin, Data: map[string]interface{}{"query": "[:find ?e\n :where [?e :a/b]]"}})
	f.Handle(Event{Name: ClauseEvaluate, Latency: 2 * time.Millisecond,
		Data: map[string]interface{}{"clause": "[?e :a/b]", "tuples.in": 1, "tuples.out": 3}})
	f.Handle(Event{Name: TxCommitted, Data: map[string]interface{}{"t": int64(1001), "datoms": 4}})
	f.Handle(Event{Name: QueryComplete, Data: map[string]interface{}{"tuples.count": 3}})

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Query: [:find ?e :where [?e :a/b]]", lines[0])
	assert.Equal(t, "[2.0ms] [?e :a/b] 1 Tuples → 3 Tuples", lines[1])
	assert.Contains(t, lines[2], "t=1001 with 4 Datoms")
	assert.Contains(t, lines[3], "Query done with 3 Tuples")
}

func TestRenderRelation(t *testing.T) {
	r := NewRelationRenderer(false)
	assert.Equal(t, "Relation([?e ?name], 12 Tuples)", r.RenderRelation([]string{"?e", "?name"}, 12))
	assert.Equal(t, "Relation([?e])", r.RenderRelation([]string{"?e"}, -1))
}
