package transactor

import (
	"context"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/db"
	"github.com/wbrown/janus-factdb/datalog/storage"
)

// Report describes a committed (or speculative) transaction
type Report struct {
	DBBefore *db.Database
	DBAfter  *db.Database
	TxData   []datalog.Datom
	TempIDs  map[string]datalog.EntityID
	// Missed counts reports a subscriber lost just before this one
	Missed int
}

// T returns the basis t of the transaction
func (r Report) T() int64 { return r.DBAfter.BasisT() }

// TempID resolves a temp id used in the transaction: a string, a TempID
// or TxTempID
func (r Report) TempID(tempid interface{}) (datalog.EntityID, bool) {
	var key string
	switch t := tempid.(type) {
	case string:
		key = t
	case TempID:
		if t.Part == partTx {
			key = TxTempID
		} else {
			key = t.String()
		}
	default:
		return 0, false
	}
	id, ok := r.TempIDs[key]
	return id, ok
}

// LogView reads committed transactions from a connection's log
type LogView struct {
	log storage.Log
}

// TxRange returns the transactions with fromT <= t < toT in order. toT
// <= 0 means up to the latest transaction.
func (v *LogView) TxRange(ctx context.Context, fromT, toT int64) ([]db.TxSummary, error) {
	var out []db.TxSummary
	err := v.log.Range(ctx, fromT, toT, func(rec storage.TxRecord) error {
		out = append(out, db.TxSummary{T: rec.T, Tx: rec.Tx, Instant: rec.Instant, Datoms: rec.Datoms})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LastT returns the t of the latest logged transaction
func (v *LogView) LastT() int64 { return v.log.LastT() }

var _ db.TxLog = (*LogView)(nil)
