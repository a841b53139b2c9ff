package db

import (
	"sort"
	"sync"

	"github.com/wbrown/janus-factdb/datalog/index"
)

// snapshot is the published state after one transaction
type snapshot struct {
	t      int64
	idx    *index.Set
	schema *Schema
}

// Timeline is the append-only list of snapshots shared by every database
// value of one connection. It backs AsOf.
type Timeline struct {
	mu    sync.RWMutex
	snaps []snapshot
}

func (tl *Timeline) add(s snapshot) {
	tl.mu.Lock()
	tl.snaps = append(tl.snaps, s)
	tl.mu.Unlock()
}

// at returns the last snapshot with snapshot.t <= t
func (tl *Timeline) at(t int64) (snapshot, bool) {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	i := sort.Search(len(tl.snaps), func(i int) bool { return tl.snaps[i].t > t })
	if i == 0 {
		return snapshot{}, false
	}
	return tl.snaps[i-1], true
}

// fork copies the snapshots up to and including t
func (tl *Timeline) fork(t int64) *Timeline {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	i := sort.Search(len(tl.snaps), func(i int) bool { return tl.snaps[i].t > t })
	return &Timeline{snaps: append([]snapshot(nil), tl.snaps[:i]...)}
}

// Len returns the number of snapshots
func (tl *Timeline) Len() int {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return len(tl.snaps)
}
