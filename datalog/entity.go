package datalog

import "strconv"

// EntityID identifies an entity. The high bits carry the partition,
// the low 42 bits an index allocated from that partition's counter.
type EntityID int64

const partitionShift = 42

const indexMask = int64(1)<<partitionShift - 1

// Built-in partitions
const (
	PartDB   int64 = 0
	PartTx   int64 = 3
	PartUser int64 = 4
)

// Partition idents
var (
	PartDBIdent   = NewKeyword(":db.part/db")
	PartTxIdent   = NewKeyword(":db.part/tx")
	PartUserIdent = NewKeyword(":db.part/user")
)

// MakeEntityID builds an id from a partition number and an index
func MakeEntityID(part, index int64) EntityID {
	return EntityID(part<<partitionShift | (index & indexMask))
}

// Partition returns the partition number
func (e EntityID) Partition() int64 {
	return int64(e) >> partitionShift
}

// Index returns the index within the partition
func (e EntityID) Index() int64 {
	return int64(e) & indexMask
}

// String returns the decimal id
func (e EntityID) String() string {
	return strconv.FormatInt(int64(e), 10)
}

// ToTx converts a basis t into its transaction entity id
func ToTx(t int64) EntityID {
	return MakeEntityID(PartTx, t)
}

// ToT converts a transaction entity id (or a t) into a basis t
func ToT(tx int64) int64 {
	return tx & indexMask
}
