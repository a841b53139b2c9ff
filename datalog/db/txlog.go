package db

import (
	"context"
	"time"

	"github.com/wbrown/janus-factdb/datalog"
)

// TxSummary describes one committed transaction
type TxSummary struct {
	T       int64
	Tx      datalog.EntityID
	Instant time.Time
	Datoms  []datalog.Datom
}

// TxLog gives ordered access to committed transactions. fromT is
// inclusive, toT exclusive; toT <= 0 means no upper bound.
type TxLog interface {
	TxRange(ctx context.Context, fromT, toT int64) ([]TxSummary, error)
}
