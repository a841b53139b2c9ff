package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const txKeyPrefix = 't'

// BadgerLog stores records in BadgerDB under 't' + big-endian T
type BadgerLog struct {
	db     *badger.DB
	logger *zap.Logger
	last   atomic.Int64
}

// NewBadgerLog opens or creates a badger-backed log at path
func NewBadgerLog(path string, logger *zap.Logger) (*BadgerLog, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = badgerLogger{logger.Named("badger").Sugar()}

	// The log is written once per transaction and read sequentially on
	// open, so small memtables and a modest block cache are enough.
	opts.MemTableSize = 16 << 20
	opts.BlockCacheSize = 32 << 20
	opts.IndexCacheSize = 16 << 20
	opts.DetectConflicts = false // single writer
	opts.NumCompactors = 2
	opts.ValueThreshold = 1 << 10
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	l := &BadgerLog{db: db, logger: logger}
	last, err := l.scanLastT()
	if err != nil {
		db.Close()
		return nil, err
	}
	l.last.Store(last)
	logger.Debug("opened badger log", zap.String("path", path), zap.Int64("last_t", last))
	return l, nil
}

func txKey(t int64) []byte {
	key := make([]byte, 9)
	key[0] = txKeyPrefix
	binary.BigEndian.PutUint64(key[1:], uint64(t))
	return key
}

func (l *BadgerLog) scanLastT() (int64, error) {
	var last int64
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(txKey(-1)) // 't' + 0xff...: past every key in the prefix
		if it.ValidForPrefix([]byte{txKeyPrefix}) {
			last = int64(binary.BigEndian.Uint64(it.Item().Key()[1:]))
		}
		return nil
	})
	return last, err
}

func (l *BadgerLog) Append(ctx context.Context, rec TxRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkOrder("badger append", l.last.Load(), rec); err != nil {
		return err
	}
	raw, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(txKey(rec.T), raw)
	})
	if err != nil {
		return fmt.Errorf("failed to append t %d: %w", rec.T, err)
	}
	l.last.Store(rec.T)
	return nil
}

func (l *BadgerLog) Range(ctx context.Context, fromT, toT int64, fn func(TxRecord) error) error {
	return l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 100
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte{txKeyPrefix}
		for it.Seek(txKey(max(fromT, 0))); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			t := int64(binary.BigEndian.Uint64(item.Key()[1:]))
			if !inRange(t, fromT, toT) {
				return nil
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read t %d: %w", t, err)
			}
			rec, err := DecodeRecord(raw)
			if err != nil {
				return err
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *BadgerLog) LastT() int64 { return l.last.Load() }

func (l *BadgerLog) Close() error {
	return l.db.Close()
}

// badgerLogger routes badger's printf-style logging into zap
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (b badgerLogger) Errorf(format string, args ...interface{})   { b.s.Errorf(format, args...) }
func (b badgerLogger) Warningf(format string, args ...interface{}) { b.s.Warnf(format, args...) }
func (b badgerLogger) Infof(format string, args ...interface{})    { b.s.Debugf(format, args...) }
func (b badgerLogger) Debugf(format string, args ...interface{})   { b.s.Debugf(format, args...) }
