package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryLog keeps records in memory. Records are stored encoded so the
// codec is exercised exactly as on disk.
type MemoryLog struct {
	mu      sync.RWMutex
	ts      []int64
	records [][]byte
}

// NewMemoryLog creates an empty in-memory log
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (m *MemoryLog) Append(ctx context.Context, rec TxRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := EncodeRecord(rec)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkOrder("memory append", m.lastT(), rec); err != nil {
		return err
	}
	m.ts = append(m.ts, rec.T)
	m.records = append(m.records, raw)
	return nil
}

func (m *MemoryLog) Range(ctx context.Context, fromT, toT int64, fn func(TxRecord) error) error {
	m.mu.RLock()
	start := sort.Search(len(m.ts), func(i int) bool { return m.ts[i] >= fromT })
	ts := m.ts[start:]
	records := m.records[start:]
	m.mu.RUnlock()

	for i, t := range ts {
		if !inRange(t, fromT, toT) {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := DecodeRecord(records[i])
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryLog) LastT() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastT()
}

func (m *MemoryLog) lastT() int64 {
	if len(m.ts) == 0 {
		return 0
	}
	return m.ts[len(m.ts)-1]
}

func (m *MemoryLog) Close() error { return nil }
