package transactor

import (
	"time"

	"github.com/wbrown/janus-factdb/datalog/annotations"
	"github.com/wbrown/janus-factdb/datalog/storage"
	"go.uber.org/zap"
)

// Option configures Open
type Option func(*Connection)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Connection) { c.logger = logger }
}

// WithStorage uses an already open log instead of the configured backend.
// The connection takes ownership and closes it.
func WithStorage(log storage.Log) Option {
	return func(c *Connection) { c.log = log }
}

// WithRegistry sets the transaction function registry
func WithRegistry(r *Registry) Option {
	return func(c *Connection) { c.registry = r }
}

// WithCollector records pipeline state changes as annotation events
func WithCollector(collector *annotations.Collector) Option {
	return func(c *Connection) { c.collector = collector }
}

// WithClock replaces the wall clock used for :db/txInstant
func WithClock(clock func() time.Time) Option {
	return func(c *Connection) { c.clock = clock }
}
