package transactor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/annotations"
	"github.com/wbrown/janus-factdb/datalog/config"
	"github.com/wbrown/janus-factdb/datalog/db"
	"github.com/wbrown/janus-factdb/datalog/storage"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

const schemaEDN = `
[{:db/ident :person/name :db/valueType :db.type/string :db/cardinality :db.cardinality/one :db/unique :db.unique/identity}
 {:db/ident :person/email :db/valueType :db.type/string :db/cardinality :db.cardinality/one :db/unique :db.unique/value}
 {:db/ident :person/age :db/valueType :db.type/long :db/cardinality :db.cardinality/one}
 {:db/ident :person/friend :db/valueType :db.type/ref :db/cardinality :db.cardinality/many}
 {:db/ident :person/address :db/valueType :db.type/ref :db/cardinality :db.cardinality/one :db/isComponent true}
 {:db/ident :address/street :db/valueType :db.type/string :db/cardinality :db.cardinality/one}
 {:db/ident :account/balance :db/valueType :db.type/long :db/cardinality :db.cardinality/one}
 {:db/ident :source/confidence :db/valueType :db.type/long :db/cardinality :db.cardinality/one}]`

// fixedClock is a settable clock for :db/txInstant
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func openConn(t *testing.T, opts ...Option) *Connection {
	t.Helper()
	clock := &fixedClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithClock(clock.Now)}, opts...)
	conn, err := Open(context.Background(), config.DefaultConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = conn.TransactEDN(context.Background(), schemaEDN)
	require.NoError(t, err)
	return conn
}

func transact(t *testing.T, conn *Connection, text string) Report {
	t.Helper()
	rep, err := conn.TransactEDN(context.Background(), text)
	require.NoError(t, err)
	return rep
}

func attrID(t *testing.T, d *db.Database, ident string) datalog.EntityID {
	t.Helper()
	a, err := d.ResolveAttr(datalog.NewKeyword(ident))
	require.NoError(t, err)
	return a.ID
}

func TestSchemaInstall(t *testing.T) {
	conn := openConn(t)
	d := conn.DB()

	assert.Equal(t, int64(1000), d.BasisT(), "first transaction takes the first user index")
	name, ok := d.Attribute(datalog.NewKeyword(":person/name"))
	require.True(t, ok)
	assert.Equal(t, datalog.PartDB, name.ID.Partition())
	assert.Equal(t, db.UniqueIdentity, name.Unique)
	assert.Contains(t, d.Values(db.PartDBEntity, db.AttrInstallAttribute), datalog.Value(name.ID))

	addr, _ := d.Attribute(datalog.NewKeyword(":person/address"))
	assert.True(t, addr.IsComponent)
}

func TestNewAttributeNeedsCardinality(t *testing.T) {
	conn := openConn(t)
	_, err := conn.TransactEDN(context.Background(), `[{:db/ident :thing/x :db/valueType :db.type/long}]`)
	var ve *datalog.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestRoundTripAndIdempotence(t *testing.T) {
	conn := openConn(t)
	rep := transact(t, conn, `[{:db/id "alice" :person/name "Alice" :person/age 30 :person/email "alice@example.com"}]`)

	alice, ok := rep.TempID("alice")
	require.True(t, ok)
	assert.Equal(t, datalog.PartUser, alice.Partition())
	assert.Greater(t, alice.Index(), rep.T())

	e := conn.DB().Entity(alice)
	require.NotNil(t, e)
	assert.Equal(t, "Alice", e.Get(":person/name"))
	assert.Equal(t, int64(30), e.Get(":person/age"))

	again := transact(t, conn, `[{:person/name "Alice" :person/age 30}]`)
	assert.Greater(t, again.T(), rep.T())
	require.Len(t, again.TxData, 1, "only :db/txInstant is new")
	assert.Equal(t, db.AttrTxInstant, again.TxData[0].A)
	assert.Len(t, conn.DB().Values(alice, attrID(t, conn.DB(), ":person/age")), 1)
}

func TestConsecutiveReportsChain(t *testing.T) {
	conn := openConn(t)
	r1 := transact(t, conn, `[{:person/name "A"}]`)
	r2 := transact(t, conn, `[{:person/name "B"}]`)
	assert.Same(t, r1.DBAfter, r2.DBBefore)
	assert.Same(t, r2.DBAfter, conn.DB())
}

func TestUpsertRetractsPreviousValue(t *testing.T) {
	conn := openConn(t)
	rep := transact(t, conn, `[{:db/id "a" :person/name "Alice" :person/age 30}]`)
	alice, _ := rep.TempID("a")

	up := transact(t, conn, `[{:db/id "b" :person/name "Alice" :person/age 31}]`)
	id, _ := up.TempID("b")
	assert.Equal(t, alice, id)

	age := attrID(t, conn.DB(), ":person/age")
	var retracted, added []datalog.Value
	for _, d := range up.TxData {
		if d.A != age {
			continue
		}
		if d.Added {
			added = append(added, d.V)
		} else {
			retracted = append(retracted, d.V)
		}
	}
	assert.Equal(t, []datalog.Value{int64(30)}, retracted)
	assert.Equal(t, []datalog.Value{int64(31)}, added)
}

func TestNewIdentityUnifiesTempIDs(t *testing.T) {
	conn := openConn(t)
	rep := transact(t, conn, `[{:db/id "a" :person/name "Nora" :person/age 30}
	                           {:db/id "b" :person/name "Nora" :person/email "nora@example.com"}
	                           {:person/name "Nora"}]`)
	a, _ := rep.TempID("a")
	b, _ := rep.TempID("b")
	assert.Equal(t, a, b)

	d := conn.DB()
	assert.Equal(t, []datalog.Value{int64(30)}, d.Values(a, attrID(t, d, ":person/age")))
	assert.Equal(t, []datalog.Value{"nora@example.com"}, d.Values(a, attrID(t, d, ":person/email")))
	names := 0
	for _, dt := range rep.TxData {
		if dt.A == attrID(t, d, ":person/name") {
			names++
		}
	}
	assert.Equal(t, 1, names)

	_, err := conn.TransactEDN(context.Background(), `[{:db/id "x" :person/name "Otto"}
	                                                  {:db/id "y" :person/name "Pia"}
	                                                  {:db/id "x" :person/name "Pia"}]`)
	assert.Error(t, err, "one temp id cannot take two identity values of a cardinality one attribute")
}

func TestCompareAndSwap(t *testing.T) {
	conn := openConn(t)
	rep := transact(t, conn, `[{:db/id "acct" :account/balance 100}]`)
	acct, _ := rep.TempID("acct")
	ctx := context.Background()

	_, err := conn.Transact(ctx, []interface{}{
		[]interface{}{db.KwCAS, acct, ":account/balance", 100, 110},
	})
	require.NoError(t, err)
	basis := conn.DB().BasisT()

	_, err = conn.Transact(ctx, []interface{}{
		[]interface{}{db.KwCAS, acct, ":account/balance", 100, 120},
	})
	var ce *datalog.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, acct, ce.Entity)
	assert.Equal(t, int64(100), ce.Expected)
	assert.Equal(t, int64(110), ce.Actual)
	assert.Equal(t, basis, conn.DB().BasisT(), "a rejected transaction writes nothing")
	assert.Equal(t, []datalog.Value{int64(110)}, conn.DB().Values(acct, attrID(t, conn.DB(), ":account/balance")))

	_, err = conn.Transact(ctx, []interface{}{
		[]interface{}{db.KwCAS, "fresh", ":account/balance", nil, 5},
		map[datalog.Keyword]interface{}{db.KwID: "fresh", datalog.NewKeyword(":person/name"): "Fresh"},
	})
	require.NoError(t, err, "nil expected value means absent")
}

func TestRejections(t *testing.T) {
	conn := openConn(t)
	transact(t, conn, `[{:person/name "Alice" :person/email "alice@example.com"} {:person/name "Bob"}]`)

	tests := []struct {
		name  string
		forms string
		check func(error) bool
	}{
		{"unknown attribute", `[[:db/add "x" :person/shoe-size 42]]`, isValidation},
		{"wrong value type", `[[:db/add "x" :person/age "old"]]`, isValidation},
		{"cardinality one twice", `[[:db/add "x" :person/age 1] [:db/add "x" :person/age 2]]`, isValidation},
		{"temp id only as value", `[[:db/add "x" :person/friend "ghost"] [:db/add "x" :person/age 1]]`, isResolution},
		{"upsert to two entities", `[{:db/id "x" :person/name "Alice"} {:db/id "x" :person/name "Bob"}]`, isResolution},
		{"unique value collision", `[{:person/name "Carol" :person/email "alice@example.com"}]`, isConflict},
		{"unique value twice in batch", `[{:person/name "C" :person/email "c@x"} {:person/name "D" :person/email "c@x"}]`, isConflict},
		{"nested without identity", `[{:person/name "Dan" :person/friend {:person/age 3}}]`, isValidation},
		{"bad form", `[42]`, isValidation},
		{"unknown lookup ref", `[[:db/add [:person/name "Nobody"] :person/age 3]]`, isResolution},
		{"unknown function", `[[:no/such-fn 1]]`, isValidation},
		{"explicit instant in the past", `[{:db/id "datomic.tx" :db/txInstant #inst "2000-01-01"}]`, isValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			basis := conn.DB().BasisT()
			_, err := conn.TransactEDN(context.Background(), tt.forms)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error type %T: %v", err, err)
			assert.Equal(t, basis, conn.DB().BasisT())
		})
	}
}

func isValidation(err error) bool {
	var ve *datalog.ValidationError
	return errors.As(err, &ve)
}

func isResolution(err error) bool {
	var re *datalog.ResolutionError
	return errors.As(err, &re)
}

func isConflict(err error) bool {
	var ce *datalog.ConflictError
	return errors.As(err, &ce)
}

func TestNestedMapsAndRetractEntity(t *testing.T) {
	conn := openConn(t)
	rep := transact(t, conn, `[{:db/id "alice" :person/name "Alice"}
	  {:db/id "bob" :person/name "Bob" :person/address {:address/street "1 Main St"}}
	  [:db/add "alice" :person/friend "bob"]]`)
	bob, _ := rep.TempID("bob")
	alice, _ := rep.TempID("alice")

	d := conn.DB()
	addrAttr := attrID(t, d, ":person/address")
	addrs := d.Values(bob, addrAttr)
	require.Len(t, addrs, 1)
	addr := addrs[0].(datalog.EntityID)
	assert.Equal(t, []datalog.Value{"1 Main St"}, d.Values(addr, attrID(t, d, ":address/street")))

	_, err := conn.Transact(context.Background(), []interface{}{
		[]interface{}{db.KwRetractEntity, []interface{}{datalog.NewKeyword(":person/name"), "Bob"}},
	})
	require.NoError(t, err)

	d = conn.DB()
	assert.Nil(t, d.Entity(bob).Get(":person/name"))
	assert.Empty(t, d.Values(addr, attrID(t, d, ":address/street")), "components are retracted with their owner")
	assert.Empty(t, d.Values(alice, attrID(t, d, ":person/friend")), "references to the entity are retracted")
}

func TestReverseKeyAndManyValues(t *testing.T) {
	conn := openConn(t)
	rep := transact(t, conn, `[{:db/id "alice" :person/name "Alice"}
	  {:db/id "bob" :person/name "Bob"}]`)
	alice, _ := rep.TempID("alice")
	bob, _ := rep.TempID("bob")

	rep = transact(t, conn, `[{:db/id "eve" :person/name "Eve" :person/_friend [[:person/name "Alice"]]}
	  {:db/id [:person/name "Bob"] :person/friend #{[:person/name "Alice"] "eve"}}]`)
	eve, _ := rep.TempID("eve")

	d := conn.DB()
	friend := attrID(t, d, ":person/friend")
	assert.Equal(t, []datalog.Value{eve}, d.Values(alice, friend))
	assert.ElementsMatch(t, []datalog.Value{alice, eve}, d.Values(bob, friend))
}

func TestTxMetadataAndInstant(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	conn := openConn(t, WithClock(clock.Now))

	rep := transact(t, conn, `[{:db/id "datomic.tx" :source/confidence 95} {:person/name "Alice"}]`)
	tx := datalog.ToTx(rep.T())
	assert.Equal(t, []datalog.Value{int64(95)}, conn.DB().Values(tx, attrID(t, conn.DB(), ":source/confidence")))
	first, ok := conn.DB().TxInstant(tx)
	require.True(t, ok)

	clock.Set(first.Add(-time.Hour))
	rep = transact(t, conn, `[{:person/name "Bob"}]`)
	second, _ := conn.DB().TxInstant(datalog.ToTx(rep.T()))
	assert.False(t, second.Before(first), "txInstant never goes backwards")
}

func TestTransactionFunctions(t *testing.T) {
	conn := openConn(t)
	ctx := context.Background()

	ensure := []interface{}{KwEnsureComposite, ":person/name", "Zed", ":person/age", 40}
	_, err := conn.Transact(ctx, []interface{}{ensure})
	require.NoError(t, err)
	_, err = conn.Transact(ctx, []interface{}{ensure})
	assert.True(t, isConflict(err))

	_, err = conn.Registry().Invoke(conn.DB(), KwEnsureComposite.String(), ":person/name", "Zed", ":person/age", 40)
	assert.True(t, isConflict(err))
	out, err := conn.Registry().Invoke(conn.DB(), KwEnsureComposite.String(), ":person/name", "Zed", ":person/age", 41)
	require.NoError(t, err)
	assert.Len(t, out, 1)

	require.NoError(t, conn.Registry().Register(":test/loop", "1", "", func(*db.Database, ...interface{}) ([]interface{}, error) {
		return []interface{}{[]interface{}{datalog.NewKeyword(":test/loop")}}, nil
	}))
	_, err = conn.Transact(ctx, []interface{}{[]interface{}{datalog.NewKeyword(":test/loop")}})
	assert.True(t, isResolution(err))

	assert.Error(t, conn.Registry().Register(":test/loop", "2", "", nil), "names register once")
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry("secret")
	assert.Equal(t, []datalog.Keyword{KwEnsureComposite}, r.Names())
	assert.Panics(t, func() {
		r.MustRegister(KwEnsureComposite.String(), "2", "", EnsureComposite)
	})
}

func TestFunctionSignature(t *testing.T) {
	conn := openConn(t)
	ctx := context.Background()

	other := DefaultRegistry("another secret")
	form, err := other.InstallForm(KwEnsureComposite.String())
	require.NoError(t, err)
	_, err = conn.Transact(ctx, []interface{}{form})
	require.NoError(t, err)

	_, err = conn.Transact(ctx, []interface{}{[]interface{}{KwEnsureComposite, ":person/name", "Q", ":person/age", 1}})
	assert.True(t, isValidation(err), "signature installed by another registry is refused: %v", err)

	own, ok := conn.Registry().Signature(KwEnsureComposite.String())
	require.True(t, ok)
	sig, _ := other.Signature(KwEnsureComposite.String())
	assert.NotEqual(t, own, sig)
}

func TestWithIsSpeculative(t *testing.T) {
	conn := openConn(t)
	before := conn.DB()

	rep, err := conn.With(before, []interface{}{map[string]interface{}{":person/name": "Ghost"}})
	require.NoError(t, err)
	assert.Equal(t, before.NextIndex(), rep.DBAfter.BasisT())
	assert.NotNil(t, rep.DBAfter.Entity([]interface{}{datalog.NewKeyword(":person/name"), "Ghost"}))

	assert.Same(t, before, conn.DB())
	assert.Nil(t, conn.DB().Entity([]interface{}{datalog.NewKeyword(":person/name"), "Ghost"}))
}

func TestLogRange(t *testing.T) {
	conn := openConn(t)
	transact(t, conn, `[{:person/name "A"}]`)
	transact(t, conn, `[{:person/name "B"}]`)

	txs, err := conn.Log().TxRange(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	for i := 1; i < len(txs); i++ {
		assert.Less(t, txs[i-1].T, txs[i].T)
	}
	assert.Equal(t, txs[2].T, conn.Log().LastT())

	tail, err := conn.Log().TxRange(context.Background(), txs[1].T, 0)
	require.NoError(t, err)
	assert.Len(t, tail, 2)
}

func TestReplayAfterReopen(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "facts.db")
	ctx := context.Background()

	conn, err := Open(ctx, cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	_, err = conn.TransactEDN(ctx, schemaEDN)
	require.NoError(t, err)
	rep, err := conn.TransactEDN(ctx, `[{:db/id "a" :person/name "Alice" :person/age 30}]`)
	require.NoError(t, err)
	alice, _ := rep.TempID("a")
	asOf := rep.T()
	_, err = conn.TransactEDN(ctx, `[{:person/name "Alice" :person/age 31}]`)
	require.NoError(t, err)
	basis := conn.DB().BasisT()
	require.NoError(t, conn.Close())

	conn, err = Open(ctx, cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer conn.Close()

	d := conn.DB()
	assert.Equal(t, basis, d.BasisT())
	age := attrID(t, d, ":person/age")
	assert.Equal(t, []datalog.Value{int64(31)}, d.Values(alice, age))
	assert.Equal(t, []datalog.Value{int64(30)}, d.AsOf(asOf).Values(alice, age))

	rep, err = conn.TransactEDN(ctx, `[{:db/id "b" :person/name "Bob"}]`)
	require.NoError(t, err)
	bob, _ := rep.TempID("b")
	assert.Greater(t, bob.Index(), basis, "the counter resumes past every used index")
}

func TestAnnotations(t *testing.T) {
	collector := annotations.NewCollector(nil)
	conn := openConn(t, WithCollector(collector))
	transact(t, conn, `[{:person/name "A"}]`)
	_, _ = conn.TransactEDN(context.Background(), `[[:db/add "x" :nope/nope 1]]`)

	for _, name := range []string{annotations.TxReceived, annotations.TxValidated, annotations.TxResolved,
		annotations.TxApplied, annotations.TxCommitted, annotations.TxRejected} {
		assert.NotEmpty(t, collector.Named(name), name)
	}
}

// failingLog fails every append after the first n
type failingLog struct {
	storage.Log
	mu sync.Mutex
	n  int
}

func (f *failingLog) Append(ctx context.Context, rec storage.TxRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n <= 0 {
		return errors.New("disk on fire")
	}
	f.n--
	return f.Log.Append(ctx, rec)
}

func TestStorageFaultIsSticky(t *testing.T) {
	conn := openConn(t, WithStorage(&failingLog{Log: storage.NewMemoryLog(), n: 1}))

	_, err := conn.TransactEDN(context.Background(), `[{:person/name "A"}]`)
	var sf *datalog.StorageFault
	require.True(t, errors.As(err, &sf))

	_, err = conn.TransactEDN(context.Background(), `[{:person/name "B"}]`)
	assert.True(t, errors.As(err, &sf))
	assert.Equal(t, err, conn.Fault())
}

func TestCloseStopsWriter(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	conn, err := Open(context.Background(), nil)
	require.NoError(t, err)
	q := conn.Subscribe(QueueOptions{Size: 4})
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	_, err = conn.TransactEDN(context.Background(), `[]`)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = q.Take(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestConcurrentTransactsAreSerialized(t *testing.T) {
	conn := openConn(t)
	var wg sync.WaitGroup
	ts := make(chan int64, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rep, err := conn.Transact(context.Background(), []interface{}{
				map[string]interface{}{":account/balance": 1},
			})
			if assert.NoError(t, err) {
				ts <- rep.T()
			}
		}()
	}
	wg.Wait()
	close(ts)

	seen := make(map[int64]bool)
	for ti := range ts {
		assert.False(t, seen[ti])
		seen[ti] = true
	}
	assert.Len(t, seen, 20)
}
