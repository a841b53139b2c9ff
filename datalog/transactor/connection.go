// Package transactor is the single writer of a database: it turns
// transaction forms into datoms, appends them to the log, publishes the
// next database value and notifies subscribers.
package transactor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/annotations"
	"github.com/wbrown/janus-factdb/datalog/config"
	"github.com/wbrown/janus-factdb/datalog/db"
	"github.com/wbrown/janus-factdb/datalog/storage"
	"go.uber.org/zap"
)

// ErrClosed is returned by operations on a closed connection
var ErrClosed = errors.New("connection closed")

// Connection is a database connection with one writer goroutine
type Connection struct {
	cfg       config.TransactorConfig
	logger    *zap.Logger
	log       storage.Log
	registry  *Registry
	collector *annotations.Collector
	clock     func() time.Time
	overflow  Overflow

	writer  *db.Writer
	current atomic.Pointer[db.Database]
	fault   atomic.Pointer[error]

	// owned by the writer goroutine
	next int64

	requests chan *request
	stop     chan struct{}
	stopped  chan struct{}
	closed   atomic.Bool
	closeMu  sync.Mutex

	subsMu sync.Mutex
	subs   []*ReportQueue
}

type request struct {
	ctx   context.Context
	forms []interface{}
	state atomic.Int32 // 0 pending, 1 taken, 2 abandoned
	reply chan result
}

type result struct {
	report Report
	err    error
}

// Open opens the configured log, replays it into the indexes and starts
// the writer
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Connection, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	overflow, err := ParseOverflow(cfg.Transactor.Overflow)
	if err != nil {
		return nil, err
	}
	c := &Connection{
		cfg:      cfg.Transactor,
		clock:    time.Now,
		overflow: overflow,
		requests: make(chan *request, max(cfg.Transactor.QueueSize, 1)),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.registry == nil {
		c.registry = DefaultRegistry(cfg.Transactor.FnSecret)
	}
	if c.log == nil {
		c.log, err = storage.Open(storage.Backend(cfg.Storage.Backend), cfg.Storage.Path, c.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
	}

	if err := c.replay(ctx); err != nil {
		c.log.Close()
		return nil, err
	}
	go c.run()
	return c, nil
}

// replay rebuilds the indexes from every logged transaction
func (c *Connection) replay(ctx context.Context) error {
	w, err := db.NewWriter()
	if err != nil {
		return err
	}
	start := time.Now()
	count := 0
	err = c.log.Range(ctx, 1, 0, func(rec storage.TxRecord) error {
		if _, err := w.Apply(rec.T, rec.Datoms); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replay log: %w", err)
	}
	c.writer = w
	c.current.Store(w.DB())
	c.next = w.DB().NextIndex()
	c.logger.Info("log replayed",
		zap.Int("transactions", count),
		zap.Int64("basis_t", w.DB().BasisT()),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// DB returns the latest database value
func (c *Connection) DB() *db.Database { return c.current.Load() }

// Log returns read access to committed transactions
func (c *Connection) Log() *LogView { return &LogView{log: c.log} }

// Registry returns the transaction function registry
func (c *Connection) Registry() *Registry { return c.registry }

// Fault returns the storage fault that stopped the writer, if any
func (c *Connection) Fault() error {
	if p := c.fault.Load(); p != nil {
		return *p
	}
	return nil
}

// Transact submits forms and waits for the transaction to commit or be
// rejected. If ctx ends before the writer picks the request up, the
// request is abandoned and ctx's error returned.
func (c *Connection) Transact(ctx context.Context, forms []interface{}) (Report, error) {
	if c.closed.Load() {
		return Report{}, ErrClosed
	}
	if err := c.Fault(); err != nil {
		return Report{}, err
	}
	req := &request{ctx: ctx, forms: forms, reply: make(chan result, 1)}

	select {
	case c.requests <- req:
	case <-c.stop:
		return Report{}, ErrClosed
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.report, res.err
	case <-ctx.Done():
		if req.state.CompareAndSwap(0, 2) {
			return Report{}, ctx.Err()
		}
		res := <-req.reply
		return res.report, res.err
	case <-c.stopped:
		// queued after the writer drained its requests
		if req.state.CompareAndSwap(0, 2) {
			return Report{}, ErrClosed
		}
		res := <-req.reply
		return res.report, res.err
	}
}

// TransactEDN reads forms from EDN text and transacts them
func (c *Connection) TransactEDN(ctx context.Context, text string) (Report, error) {
	forms, err := ReadForms(text)
	if err != nil {
		return Report{}, err
	}
	return c.Transact(ctx, forms)
}

// With runs forms against database d without logging or publishing
// anything. The result is a speculative database value.
func (c *Connection) With(d *db.Database, forms []interface{}) (Report, error) {
	return With(d, forms, c.registry, c.cfg.MaxFnDepth, c.clock())
}

// With runs forms against d speculatively using registry for
// transaction functions
func With(d *db.Database, forms []interface{}, registry *Registry, maxDepth int, now time.Time) (Report, error) {
	p := newPipeline(d, registry, maxDepth)
	prep, err := p.run(forms, d.NextIndex(), now)
	if err != nil {
		return Report{}, err
	}
	after, err := d.With(prep.t, prep.datoms)
	if err != nil {
		return Report{}, err
	}
	return Report{DBBefore: d, DBAfter: after, TxData: prep.datoms, TempIDs: prep.tempids}, nil
}

// Subscribe returns a queue receiving the report of every later commit
func (c *Connection) Subscribe(opts QueueOptions) *ReportQueue {
	if opts.Size <= 0 {
		opts.Size = c.cfg.SubscriberQueue
	}
	q := newReportQueue(opts, c.unsubscribe)
	c.subsMu.Lock()
	c.subs = append(c.subs, q)
	c.subsMu.Unlock()
	return q
}

// SubscribeDefault subscribes with the configured size and overflow policy
func (c *Connection) SubscribeDefault() *ReportQueue {
	return c.Subscribe(QueueOptions{Size: c.cfg.SubscriberQueue, Overflow: c.overflow})
}

func (c *Connection) unsubscribe(q *ReportQueue) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for i, s := range c.subs {
		if s == q {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return
		}
	}
}

// Close stops the writer after it drains queued requests, closes every
// subscriber queue and then the log
func (c *Connection) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed.Swap(true) {
		return nil
	}
	close(c.stop)
	<-c.stopped

	c.subsMu.Lock()
	subs := append([]*ReportQueue(nil), c.subs...)
	c.subsMu.Unlock()
	for _, q := range subs {
		q.Close()
	}
	return c.log.Close()
}

func (c *Connection) run() {
	defer close(c.stopped)
	for {
		select {
		case req := <-c.requests:
			c.handle(req)
		case <-c.stop:
			for {
				select {
				case req := <-c.requests:
					c.handle(req)
				default:
					return
				}
			}
		}
	}
}

func (c *Connection) handle(req *request) {
	if !req.state.CompareAndSwap(0, 1) {
		return
	}
	rep, err := c.commit(req)
	req.reply <- result{report: rep, err: err}
}

func (c *Connection) event(name string, start time.Time, data map[string]interface{}) {
	c.collector.AddTiming(name, start, data)
}

// commit runs one request through the pipeline: log append, then the new
// database value, then subscriber delivery
func (c *Connection) commit(req *request) (Report, error) {
	start := time.Now()
	t := c.next
	log := c.logger.With(zap.Int64("t", t))
	log.Debug("transaction received", zap.Int("forms", len(req.forms)))
	c.event(annotations.TxReceived, start, map[string]interface{}{"t": t, "forms": len(req.forms)})

	if err := c.Fault(); err != nil {
		return Report{}, err
	}

	before := c.DB()
	p := newPipeline(before, c.registry, c.cfg.MaxFnDepth)
	p.trace = func(stage string, fields map[string]interface{}) {
		log.Debug("transaction "+stage, zap.Any("detail", fields))
		fields["t"] = t
		c.event("tx/"+stage, start, fields)
	}

	prep, err := p.run(req.forms, t, c.clock())
	if err != nil {
		log.Debug("transaction rejected", zap.Error(err))
		c.event(annotations.TxRejected, start, map[string]interface{}{"t": t, "error": err.Error()})
		return Report{}, err
	}

	rec := storage.TxRecord{T: prep.t, Tx: prep.tx, Instant: prep.instant, Datoms: prep.datoms}
	if err := c.log.Append(context.WithoutCancel(req.ctx), rec); err != nil {
		return Report{}, c.setFault("log append", err)
	}
	after, err := c.writer.Apply(prep.t, prep.datoms)
	if err != nil {
		return Report{}, c.setFault("index apply", err)
	}
	c.next = prep.next
	c.current.Store(after)

	rep := Report{DBBefore: before, DBAfter: after, TxData: prep.datoms, TempIDs: prep.tempids}
	log.Debug("transaction committed", zap.Int("datoms", len(prep.datoms)), zap.Duration("elapsed", time.Since(start)))
	c.event(annotations.TxCommitted, start, map[string]interface{}{"t": prep.t, "datoms": len(prep.datoms)})

	c.deliver(req.ctx, rep)
	return rep, nil
}

func (c *Connection) deliver(ctx context.Context, rep Report) {
	c.subsMu.Lock()
	subs := append([]*ReportQueue(nil), c.subs...)
	c.subsMu.Unlock()

	for _, q := range subs {
		before := q.Dropped()
		q.offer(ctx, c.stop, rep)
		if q.Dropped() > before {
			c.logger.Warn("subscriber lost a report",
				zap.Int64("t", rep.T()),
				zap.String("overflow", q.opts.Overflow.String()),
				zap.Int64("dropped", q.Dropped()))
			c.event(annotations.ReportDropped, time.Now(), map[string]interface{}{"t": rep.T()})
		}
	}
}

// setFault makes err sticky: the connection refuses every later write
func (c *Connection) setFault(op string, err error) error {
	var sf *datalog.StorageFault
	if !errors.As(err, &sf) {
		err = &datalog.StorageFault{Op: op, Err: err}
	}
	c.fault.CompareAndSwap(nil, &err)
	c.logger.Error("storage fault, refusing further writes", zap.String("op", op), zap.Error(err))
	return err
}
