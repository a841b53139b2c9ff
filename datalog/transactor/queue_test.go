package transactor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestQueueDropOldest(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	conn := openConn(t)
	q := conn.Subscribe(QueueOptions{Size: 1, Overflow: DropOldest})
	defer q.Close()

	var last Report
	for i := 0; i < 3; i++ {
		last = transact(t, conn, `[{:account/balance 1}]`)
	}

	rep, ok := q.Poll()
	require.True(t, ok)
	assert.Equal(t, last.T(), rep.T(), "only the newest report survives")
	assert.Equal(t, 2, rep.Missed)
	assert.Equal(t, int64(2), q.Dropped())

	_, ok = q.Poll()
	assert.False(t, ok)
	conn.Close()
}

func TestQueueOrderedDelivery(t *testing.T) {
	conn := openConn(t)
	q := conn.Subscribe(QueueOptions{Size: 8})

	var ts []int64
	for i := 0; i < 5; i++ {
		ts = append(ts, transact(t, conn, `[{:account/balance 1}]`).T())
	}
	for _, want := range ts {
		rep, err := q.Take(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, rep.T())
		assert.Zero(t, rep.Missed)
	}
	assert.Zero(t, q.Dropped())
}

func TestQueueBlockBoundedByContext(t *testing.T) {
	conn := openConn(t)
	q := conn.Subscribe(QueueOptions{Size: 1, Overflow: Block})

	first := transact(t, conn, `[{:account/balance 1}]`)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	second, err := conn.Transact(ctx, []interface{}{map[string]interface{}{":account/balance": 2}})
	require.NoError(t, err, "the commit succeeds even when delivery gives up")
	assert.Equal(t, int64(1), q.Dropped())

	rep, err := q.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.T(), rep.T())

	third := transact(t, conn, `[{:account/balance 3}]`)
	rep, err = q.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, third.T(), rep.T())
	assert.Equal(t, 1, rep.Missed, "the report after the loss says so")
	assert.Greater(t, third.T(), second.T())
}

func TestQueueBlockWaitsForSpace(t *testing.T) {
	conn := openConn(t)
	q := conn.Subscribe(QueueOptions{Size: 1, Overflow: Block})
	transact(t, conn, `[{:account/balance 1}]`)

	done := make(chan Report, 1)
	go func() {
		rep, _ := conn.TransactEDN(context.Background(), `[{:account/balance 2}]`)
		done <- rep
	}()

	first, err := q.Take(context.Background())
	require.NoError(t, err)
	second := <-done
	require.NotNil(t, second.DBAfter)
	rep, err := q.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, second.T(), rep.T())
	assert.Less(t, first.T(), rep.T())
	assert.Zero(t, q.Dropped())
}

func TestCloseReleasesBlockedWriter(t *testing.T) {
	conn := openConn(t)
	q := conn.Subscribe(QueueOptions{Size: 1, Overflow: Block})
	first := transact(t, conn, `[{:account/balance 1}]`)

	// nobody takes from q, so the writer parks delivering this report
	errs := make(chan error, 1)
	go func() {
		_, err := conn.TransactEDN(context.Background(), `[{:account/balance 2}]`)
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- conn.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not return")
	}

	err := <-errs
	if err == nil {
		assert.Equal(t, int64(1), q.Dropped())
	} else {
		assert.ErrorIs(t, err, ErrClosed)
	}
	rep, ok := q.Poll()
	require.True(t, ok)
	assert.Equal(t, first.T(), rep.T())
}

func TestQueueTakeHonoursContext(t *testing.T) {
	q := newReportQueue(QueueOptions{Size: 2}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Take(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	q.offer(context.Background(), nil, Report{Missed: 0})
	q.Close()
	_, err = q.Take(context.Background())
	assert.NoError(t, err, "pending reports survive Close")
	_, err = q.Take(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestParseOverflow(t *testing.T) {
	o, err := ParseOverflow("block")
	require.NoError(t, err)
	assert.Equal(t, Block, o)
	o, err = ParseOverflow("")
	require.NoError(t, err)
	assert.Equal(t, DropOldest, o)
	_, err = ParseOverflow("spill")
	assert.Error(t, err)
}

func TestReadForms(t *testing.T) {
	forms, err := ReadForms(`[[:db/add "a" :x/y 1] {:x/z 2}]`)
	require.NoError(t, err)
	assert.Len(t, forms, 2)

	forms, err = ReadForms(`[:db/add "a" :x/y 1] [:db/retract 5 :x/y 1]`)
	require.NoError(t, err)
	assert.Len(t, forms, 2)

	_, err = ReadForms(`[:db/add "a"`)
	assert.Error(t, err)
}

func TestTempIDs(t *testing.T) {
	a, b := NewTempID(":db.part/user"), NewTempID(":db.part/user")
	assert.NotEqual(t, a, b)

	r, ok := asTemp(TxID())
	require.True(t, ok)
	assert.True(t, r.tx)

	r1, _ := asTemp(TempID{Part: partUser})
	r2, _ := asTemp(TempID{Part: partUser})
	assert.NotEqual(t, *r1.temp, *r2.temp, "a zero index is a new entity per use")

	_, ok = asTemp(":person/name")
	assert.False(t, ok, "keywords written as strings are idents")
}
