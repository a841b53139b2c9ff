package transactor

import (
	"context"
	"errors"
	"sync"
)

// Overflow is what a report queue does when it is full
type Overflow int

const (
	// DropOldest discards the oldest pending report; the writer never waits
	DropOldest Overflow = iota
	// Block makes the writer wait for space, bounded by the committing
	// Transact call's context and by the connection closing
	Block
)

func (o Overflow) String() string {
	if o == Block {
		return "block"
	}
	return "drop-oldest"
}

// ParseOverflow converts a configured policy name
func ParseOverflow(s string) (Overflow, error) {
	switch s {
	case "", "drop-oldest":
		return DropOldest, nil
	case "block":
		return Block, nil
	}
	return DropOldest, errors.New("unknown overflow policy " + s)
}

// QueueOptions configure a subscriber queue
type QueueOptions struct {
	Size     int
	Overflow Overflow
}

// ErrQueueClosed is returned by Take on a closed, drained queue
var ErrQueueClosed = errors.New("report queue closed")

// ReportQueue is a bounded, ordered queue of transaction reports for one
// subscriber. A report's Missed field counts the reports lost immediately
// before it.
type ReportQueue struct {
	opts QueueOptions

	mu      sync.Mutex
	items   []Report
	missed  int
	dropped int64
	closed  bool

	ready  chan struct{} // an item was added
	space  chan struct{} // an item was removed
	done   chan struct{}
	detach func(*ReportQueue)
}

func newReportQueue(opts QueueOptions, detach func(*ReportQueue)) *ReportQueue {
	if opts.Size <= 0 {
		opts.Size = 1
	}
	return &ReportQueue{
		opts:   opts,
		items:  make([]Report, 0, opts.Size),
		ready:  make(chan struct{}, 1),
		space:  make(chan struct{}, 1),
		done:   make(chan struct{}),
		detach: detach,
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// offer delivers r. Under Block it waits for space until ctx ends or stop
// is closed, then counts r as dropped.
func (q *ReportQueue) offer(ctx context.Context, stop <-chan struct{}, r Report) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		if len(q.items) < q.opts.Size {
			r.Missed += q.missed
			q.missed = 0
			q.items = append(q.items, r)
			q.mu.Unlock()
			signal(q.ready)
			return
		}
		if q.opts.Overflow == DropOldest {
			lost := q.items[0]
			q.items = append(q.items[:0], q.items[1:]...)
			q.dropped++
			if len(q.items) > 0 {
				q.items[0].Missed += lost.Missed + 1
			} else {
				r.Missed += lost.Missed + 1
			}
			r.Missed += q.missed
			q.missed = 0
			q.items = append(q.items, r)
			q.mu.Unlock()
			signal(q.ready)
			return
		}
		q.mu.Unlock()

		select {
		case <-q.space:
		case <-q.done:
			return
		case <-ctx.Done():
			q.lose(r)
			return
		case <-stop:
			q.lose(r)
			return
		}
	}
}

func (q *ReportQueue) lose(r Report) {
	q.mu.Lock()
	q.dropped++
	q.missed += r.Missed + 1
	q.mu.Unlock()
}

// Take waits for the next report
func (q *ReportQueue) Take(ctx context.Context) (Report, error) {
	for {
		if r, ok := q.Poll(); ok {
			return r, nil
		}
		select {
		case <-q.ready:
		case <-q.done:
			if r, ok := q.Poll(); ok {
				return r, nil
			}
			return Report{}, ErrQueueClosed
		case <-ctx.Done():
			return Report{}, ctx.Err()
		}
	}
}

// Poll returns the next report without waiting
func (q *ReportQueue) Poll() (Report, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return Report{}, false
	}
	r := q.items[0]
	q.items[0] = Report{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = make([]Report, 0, q.opts.Size)
	}
	q.mu.Unlock()
	signal(q.space)
	return r, true
}

// Len returns the number of pending reports
func (q *ReportQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many reports this queue lost
func (q *ReportQueue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close detaches the queue from its connection. Pending reports can still
// be taken.
func (q *ReportQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
	if q.detach != nil {
		q.detach(q)
	}
}
