package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/config"
	"github.com/wbrown/janus-factdb/datalog/executor"
	"github.com/wbrown/janus-factdb/datalog/transactor"
	"go.uber.org/zap/zaptest"
)

func smallConfig() TestDataConfig {
	return TestDataConfig{
		NumSymbols: 2,
		NumDays:    2,
		BarsPerDay: 3,
		BatchSize:  4,
		StartDate:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestGenerateOHLCBars(t *testing.T) {
	bars := generateOHLCBars(smallConfig(), []datalog.EntityID{100, 200})
	require.Len(t, bars, 12)

	first := bars[0].(map[datalog.Keyword]interface{})
	assert.Equal(t, datalog.EntityID(100), first[kwSymbol])
	assert.Equal(t, 100.0, first[kwOpen])
	assert.Equal(t, 102.0, first[kwHigh])
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), first[kwTime])

	// third bar of the second day, 480 minutes apart
	b := bars[5].(map[datalog.Keyword]interface{})
	assert.Equal(t, int64(960), b[kwMinuteOfDay])
	assert.Equal(t, time.Date(2025, 6, 2, 16, 0, 0, 0, time.UTC), b[kwTime])

	last := bars[11].(map[datalog.Keyword]interface{})
	assert.Equal(t, datalog.EntityID(200), last[kwSymbol])
}

func TestBuildOHLC(t *testing.T) {
	ctx := context.Background()
	conn, err := transactor.Open(ctx, config.DefaultConfig(), transactor.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer conn.Close()

	var progress bytes.Buffer
	n, err := BuildOHLC(ctx, conn, smallConfig(), &progress)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Contains(t, progress.String(), "Written 12/12 bars (100.0%)")

	exec := executor.NewExecutor(executor.Options{})
	got, err := exec.Q(ctx, `[:find ?ticker (count ?b)
	                          :where [?b :bar/symbol ?s] [?s :symbol/ticker ?ticker]]`, conn.DB())
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{"TICK0000", int64(6)}, {"TICK0001", int64(6)}}, got)

	high, err := exec.Q(ctx, `[:find (max ?h) . :where [?b :bar/high ?h]]`, conn.DB())
	require.NoError(t, err)
	assert.InDelta(t, 112.12, high, 1e-9)

	stats, err := databaseStats(ctx, conn)
	require.NoError(t, err)
	assert.Contains(t, stats, ":bar/open")
	assert.NotContains(t, stats, ":db/ident")
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "extra.edn")
	require.NoError(t, os.WriteFile(file, []byte(`[{:db/ident :note/text :db/valueType :db.type/string :db/cardinality :db.cardinality/one}]`), 0644))

	path := filepath.Join(dir, "facts.db")
	require.NoError(t, run("none", "sqlite", path, true, []string{file}))
	assert.FileExists(t, path)

	assert.Error(t, run("huge", "sqlite", path, true, nil))
	assert.Error(t, run("none", "tape", path, true, nil))
}
