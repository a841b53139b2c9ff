// Package storage is the durable, append-only transaction log. Every
// committed transaction is one TxRecord; the indexes are rebuilt from the
// log when a connection opens.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/wbrown/janus-factdb/datalog"
	"go.uber.org/zap"
)

// TxRecord is one committed transaction
type TxRecord struct {
	T       int64
	Tx      datalog.EntityID
	Instant time.Time
	Datoms  []datalog.Datom
}

// Log is an append-only sequence of transaction records ordered by T
type Log interface {
	// Append writes rec. rec.T must be greater than LastT.
	Append(ctx context.Context, rec TxRecord) error
	// Range calls fn for every record with fromT <= T < toT in order.
	// toT <= 0 means no upper bound.
	Range(ctx context.Context, fromT, toT int64, fn func(TxRecord) error) error
	// LastT returns the T of the last record, or 0 for an empty log
	LastT() int64
	Close() error
}

// Backend names a Log implementation
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendBadger Backend = "badger"
	BackendSQLite Backend = "sqlite"
)

// Open opens the log for the named backend. path is ignored for memory.
func Open(backend Backend, path string, logger *zap.Logger) (Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch backend {
	case BackendMemory, "":
		return NewMemoryLog(), nil
	case BackendBadger:
		return NewBadgerLog(path, logger)
	case BackendSQLite:
		return NewSQLiteLog(path, logger)
	}
	return nil, fmt.Errorf("unknown storage backend %q", backend)
}

func checkOrder(op string, last int64, rec TxRecord) error {
	if rec.T <= last {
		return &datalog.StorageFault{Op: op, Err: fmt.Errorf("record t %d is not after last t %d", rec.T, last)}
	}
	return nil
}

func inRange(t, fromT, toT int64) bool {
	return t >= fromT && (toT <= 0 || t < toT)
}
