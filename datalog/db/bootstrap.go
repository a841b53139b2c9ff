package db

import (
	"time"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/index"
)

// System entity ids. They live in :db.part/db below FirstUserIndex and are
// identical in every database.
const (
	PartDBEntity   datalog.EntityID = 0
	AddEntity      datalog.EntityID = 1
	RetractEntity  datalog.EntityID = 2
	PartTxEntity   datalog.EntityID = 3
	PartUserEntity datalog.EntityID = 4

	AttrIdent            datalog.EntityID = 10
	AttrInstallPartition datalog.EntityID = 11
	AttrInstallValueType datalog.EntityID = 12
	AttrInstallAttribute datalog.EntityID = 13
	AttrValueType        datalog.EntityID = 15
	AttrCardinality      datalog.EntityID = 16
	AttrUnique           datalog.EntityID = 17
	AttrIsComponent      datalog.EntityID = 18
	AttrIndex            datalog.EntityID = 19
	AttrNoHistory        datalog.EntityID = 20
	AttrFulltext         datalog.EntityID = 21
	AttrDoc              datalog.EntityID = 22
	AttrFn               datalog.EntityID = 23
	AttrTxInstant        datalog.EntityID = 24

	CardinalityOneEntity  datalog.EntityID = 30
	CardinalityManyEntity datalog.EntityID = 31
	UniqueValueEntity     datalog.EntityID = 32
	UniqueIdentityEntity  datalog.EntityID = 33

	CASEntity           datalog.EntityID = 60
	RetractEntityEntity datalog.EntityID = 61

	typeEntityBase datalog.EntityID = 40 // + ValueType

	// FirstUserIndex is the first index handed out by the transactor
	FirstUserIndex int64 = 1000
)

// Frequently used keywords
var (
	KwID              = datalog.NewKeyword(":db/id")
	KwIdent           = datalog.NewKeyword(":db/ident")
	KwValueType       = datalog.NewKeyword(":db/valueType")
	KwCardinality     = datalog.NewKeyword(":db/cardinality")
	KwUnique          = datalog.NewKeyword(":db/unique")
	KwIsComponent     = datalog.NewKeyword(":db/isComponent")
	KwIndex           = datalog.NewKeyword(":db/index")
	KwNoHistory       = datalog.NewKeyword(":db/noHistory")
	KwFulltext        = datalog.NewKeyword(":db/fulltext")
	KwDoc             = datalog.NewKeyword(":db/doc")
	KwFn              = datalog.NewKeyword(":db/fn")
	KwTxInstant       = datalog.NewKeyword(":db/txInstant")
	KwInstallAttr     = datalog.NewKeyword(":db.install/attribute")
	KwAdd             = datalog.NewKeyword(":db/add")
	KwRetract         = datalog.NewKeyword(":db/retract")
	KwCAS             = datalog.NewKeyword(":db.fn/cas")
	KwRetractEntity   = datalog.NewKeyword(":db.fn/retractEntity")
	KwCardinalityOne  = datalog.NewKeyword(":db.cardinality/one")
	KwCardinalityMany = datalog.NewKeyword(":db.cardinality/many")
	KwUniqueValue     = datalog.NewKeyword(":db.unique/value")
	KwUniqueIdentity  = datalog.NewKeyword(":db.unique/identity")
)

// TypeEntity returns the enum entity for a value type
func TypeEntity(vt datalog.ValueType) datalog.EntityID {
	return typeEntityBase + datalog.EntityID(vt)
}

type systemAttr struct {
	id     datalog.EntityID
	ident  string
	vt     datalog.ValueType
	many   bool
	unique datalog.EntityID
	index  bool
	doc    string
}

var systemAttrs = []systemAttr{
	{AttrIdent, ":db/ident", datalog.TypeKeyword, false, UniqueIdentityEntity, false, "Attribute used to uniquely name an entity."},
	{AttrInstallPartition, ":db.install/partition", datalog.TypeRef, true, 0, false, "System attribute with type :db.type/ref. Asserting this attribute on :db.part/db installs a partition."},
	{AttrInstallValueType, ":db.install/valueType", datalog.TypeRef, true, 0, false, "System attribute with type :db.type/ref. Asserting this attribute on :db.part/db installs a value type."},
	{AttrInstallAttribute, ":db.install/attribute", datalog.TypeRef, true, 0, false, "System attribute with type :db.type/ref. Asserting this attribute on :db.part/db installs an attribute."},
	{AttrValueType, ":db/valueType", datalog.TypeRef, false, 0, false, "Keyword-valued attribute naming the value type of an attribute."},
	{AttrCardinality, ":db/cardinality", datalog.TypeRef, false, 0, false, "Whether an attribute holds one value or a set of values."},
	{AttrUnique, ":db/unique", datalog.TypeRef, false, 0, false, "Uniqueness of an attribute: :db.unique/value or :db.unique/identity."},
	{AttrIsComponent, ":db/isComponent", datalog.TypeBoolean, false, 0, false, "Marks a reference attribute whose targets are owned by the referrer."},
	{AttrIndex, ":db/index", datalog.TypeBoolean, false, 0, false, "Maintain an AVET index for this attribute."},
	{AttrNoHistory, ":db/noHistory", datalog.TypeBoolean, false, 0, false, "Do not retain past values of this attribute."},
	{AttrFulltext, ":db/fulltext", datalog.TypeBoolean, false, 0, false, "Make string values searchable with fulltext."},
	{AttrDoc, ":db/doc", datalog.TypeString, false, 0, false, "Documentation string for an entity."},
	{AttrFn, ":db/fn", datalog.TypeString, false, 0, false, "Signature of a registered transaction function."},
	{AttrTxInstant, ":db/txInstant", datalog.TypeInstant, false, 0, true, "Wall clock time at which a transaction was committed."},
}

var systemIdents = map[datalog.EntityID]string{
	PartDBEntity:          ":db.part/db",
	AddEntity:             ":db/add",
	RetractEntity:         ":db/retract",
	PartTxEntity:          ":db.part/tx",
	PartUserEntity:        ":db.part/user",
	CardinalityOneEntity:  ":db.cardinality/one",
	CardinalityManyEntity: ":db.cardinality/many",
	UniqueValueEntity:     ":db.unique/value",
	UniqueIdentityEntity:  ":db.unique/identity",
	CASEntity:             ":db.fn/cas",
	RetractEntityEntity:   ":db.fn/retractEntity",
}

// bootstrapDatoms returns the t=0 transaction that installs the system
// schema
func bootstrapDatoms() []datalog.Datom {
	tx := datalog.ToTx(0)
	var out []datalog.Datom
	add := func(e, a datalog.EntityID, v datalog.Value) {
		out = append(out, datalog.Datom{E: e, A: a, V: v, Tx: tx, Added: true})
	}

	for id, ident := range systemIdents {
		add(id, AttrIdent, datalog.NewKeyword(ident))
	}
	for _, part := range []datalog.EntityID{PartDBEntity, PartTxEntity, PartUserEntity} {
		add(PartDBEntity, AttrInstallPartition, part)
	}
	for _, vt := range datalog.AllValueTypes() {
		add(TypeEntity(vt), AttrIdent, vt.Keyword())
		add(PartDBEntity, AttrInstallValueType, TypeEntity(vt))
	}
	for _, sa := range systemAttrs {
		add(sa.id, AttrIdent, datalog.NewKeyword(sa.ident))
		add(sa.id, AttrValueType, TypeEntity(sa.vt))
		card := CardinalityOneEntity
		if sa.many {
			card = CardinalityManyEntity
		}
		add(sa.id, AttrCardinality, card)
		if sa.unique != 0 {
			add(sa.id, AttrUnique, sa.unique)
		}
		if sa.index {
			add(sa.id, AttrIndex, true)
		}
		add(sa.id, AttrDoc, sa.doc)
		add(PartDBEntity, AttrInstallAttribute, sa.id)
	}
	add(tx, AttrTxInstant, time.Unix(0, 0).UTC())
	return out
}

func bootstrapClassifier(a datalog.EntityID) index.Flags {
	for _, sa := range systemAttrs {
		if sa.id != a {
			continue
		}
		var f index.Flags
		if sa.unique != 0 || sa.index {
			f |= index.Indexed
		}
		if sa.vt == datalog.TypeRef {
			f |= index.Ref
		}
		return f
	}
	return 0
}
