package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/janus-factdb/datalog"
	"go.uber.org/zap/zaptest"
)

func openBackend(t *testing.T, backend Backend, dir string) Log {
	t.Helper()
	path := dir
	if backend == BackendSQLite {
		path = filepath.Join(dir, "log.db")
	}
	l, err := Open(backend, path, zaptest.NewLogger(t))
	require.NoError(t, err)
	return l
}

func collectTs(t *testing.T, l Log, from, to int64) []int64 {
	t.Helper()
	var ts []int64
	require.NoError(t, l.Range(context.Background(), from, to, func(rec TxRecord) error {
		ts = append(ts, rec.T)
		return nil
	}))
	return ts
}

func TestLogBackends(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []Backend{BackendMemory, BackendBadger, BackendSQLite} {
		t.Run(string(backend), func(t *testing.T) {
			l := openBackend(t, backend, t.TempDir())
			defer l.Close()

			assert.Equal(t, int64(0), l.LastT())
			for _, tt := range []int64{1001, 1002, 1005} {
				require.NoError(t, l.Append(ctx, sampleRecord(tt)))
			}
			assert.Equal(t, int64(1005), l.LastT())

			assert.Equal(t, []int64{1001, 1002, 1005}, collectTs(t, l, 0, 0))
			assert.Equal(t, []int64{1002}, collectTs(t, l, 1002, 1005))
			assert.Equal(t, []int64{1005}, collectTs(t, l, 1003, 0))

			err := l.Append(ctx, sampleRecord(1004))
			var fault *datalog.StorageFault
			assert.True(t, errors.As(err, &fault), "out of order append must be a storage fault, got %v", err)

			stop := errors.New("stop")
			calls := 0
			err = l.Range(ctx, 0, 0, func(TxRecord) error { calls++; return stop })
			assert.ErrorIs(t, err, stop)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestLogReopen(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []Backend{BackendBadger, BackendSQLite} {
		t.Run(string(backend), func(t *testing.T) {
			dir := t.TempDir()
			l := openBackend(t, backend, dir)
			require.NoError(t, l.Append(ctx, sampleRecord(1001)))
			require.NoError(t, l.Append(ctx, sampleRecord(1002)))
			require.NoError(t, l.Close())

			l = openBackend(t, backend, dir)
			defer l.Close()
			assert.Equal(t, int64(1002), l.LastT())

			var recs []TxRecord
			require.NoError(t, l.Range(ctx, 0, 0, func(rec TxRecord) error {
				recs = append(recs, rec)
				return nil
			}))
			require.Len(t, recs, 2)
			assert.Equal(t, "Led Zeppelin", recs[1].Datoms[1].V)
		})
	}
}

func TestRangeHonoursContext(t *testing.T) {
	l := NewMemoryLog()
	require.NoError(t, l.Append(context.Background(), sampleRecord(1)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Range(ctx, 0, 0, func(TxRecord) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("tape", "", nil)
	assert.Error(t, err)
}
