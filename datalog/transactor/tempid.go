package transactor

import (
	"fmt"
	"sync/atomic"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/db"
	"github.com/wbrown/janus-factdb/datalog/edn"
)

// TxTempID is the string temp id that always names the current
// transaction entity
const TxTempID = "datomic.tx"

var (
	partDB   = datalog.NewKeyword(":db.part/db")
	partTx   = datalog.NewKeyword(":db.part/tx")
	partUser = datalog.NewKeyword(":db.part/user")
)

// TempID is a temporary entity id in a partition. Two TempIDs are the same
// entity when Part and Index are equal; NewTempID hands out a fresh Index
// on every call. The zero Index is reserved for "a new entity per use".
type TempID struct {
	Part  datalog.Keyword
	Index int64
}

var tempSeq atomic.Int64

// NewTempID returns a temp id that no other call returns
func NewTempID(part string) TempID {
	return TempID{Part: datalog.NewKeyword(part), Index: -1_000_000 - tempSeq.Add(1)}
}

// TxID returns the temp id of the current transaction
func TxID() TempID { return TempID{Part: partTx, Index: -1} }

func (t TempID) String() string {
	return fmt.Sprintf("#db/id [%s %d]", t.Part, t.Index)
}

func (t TempID) partition() (int64, error) {
	switch t.Part {
	case partDB:
		return datalog.PartDB, nil
	case partTx:
		return datalog.PartTx, nil
	case partUser, datalog.Keyword{}:
		return datalog.PartUser, nil
	}
	return 0, datalog.Validationf("unknown partition %s", t.Part)
}

// tempKey identifies one temp id within a transaction
type tempKey struct {
	name string // string temp ids
	part datalog.Keyword
	idx  int64
}

func (k tempKey) String() string {
	if k.name != "" {
		return k.name
	}
	return TempID{Part: k.part, Index: k.idx}.String()
}

var fresh atomic.Int64

// entRef is an entity position after parsing: a resolved id, a temp id or
// the transaction itself
type entRef struct {
	id   datalog.EntityID
	temp *tempKey
	tx   bool
}

func (r entRef) String() string {
	switch {
	case r.tx:
		return TxTempID
	case r.temp != nil:
		return r.temp.String()
	}
	return r.id.String()
}

// freshTemp is the implicit temp id of a map without :db/id
func freshTemp(part datalog.Keyword) entRef {
	return entRef{temp: &tempKey{part: part, idx: fresh.Add(1)}}
}

// asTemp reports whether v is a temp id and returns its key
func asTemp(v interface{}) (entRef, bool) {
	switch t := v.(type) {
	case string:
		if t == TxTempID {
			return entRef{tx: true}, true
		}
		if len(t) > 0 && t[0] != ':' {
			return entRef{temp: &tempKey{name: t}}, true
		}
	case TempID:
		if t.Part == partTx {
			return entRef{tx: true}, true
		}
		if t.Index == 0 {
			return freshTemp(t.Part), true
		}
		return entRef{temp: &tempKey{part: t.Part, idx: t.Index}}, true
	case *TempID:
		return asTemp(*t)
	case edn.Tagged:
		// #db/id [:db.part/user -1] or #db/id [:db.part/user]
		if t.Tag != "db/id" {
			return entRef{}, false
		}
		parts, ok := t.Value.([]interface{})
		if !ok || len(parts) == 0 {
			return entRef{}, false
		}
		part, ok := parts[0].(datalog.Keyword)
		if !ok {
			return entRef{}, false
		}
		id := TempID{Part: part}
		if len(parts) > 1 {
			n, ok := parts[1].(int64)
			if !ok {
				return entRef{}, false
			}
			id.Index = n
		}
		return asTemp(id)
	}
	return entRef{}, false
}

// resolveEntity parses an entity position. Temp ids stay symbolic; idents
// and lookup refs must resolve in before.
func resolveEntity(before *db.Database, v interface{}) (entRef, error) {
	if r, ok := asTemp(v); ok {
		return r, nil
	}
	id, err := before.ResolveRef(v)
	if err != nil {
		return entRef{}, &datalog.ResolutionError{Msg: err.Error()}
	}
	return entRef{id: id}, nil
}
