package ranking

import (
	"sync"
)

// Ranked is an entry paired with its 1-based rank.
type Ranked struct {
	Entry
	Rank int
}

// Board holds one category's ranking. Writers are serialized by the board's
// lock; readers share it, so a reposition (delete + insert) is never visible
// half done.
type Board struct {
	ID string

	mu    sync.RWMutex
	list  *SkipList
	index map[string]Entry
}

func NewBoard(id string) *Board {
	return &Board{ID: id, list: NewSkipList(), index: make(map[string]Entry)}
}

// Upsert inserts or repositions the user's entry. A write stamped earlier than
// the stored entry is ignored; it returns false in that case.
func (b *Board) Upsert(e Entry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cur, ok := b.index[e.UserID]; ok {
		if e.UpdatedAt.Before(cur.UpdatedAt) {
			return false
		}
		b.list.Delete(cur)
	}
	b.list.Insert(e)
	b.index[e.UserID] = e
	return true
}

func (b *Board) Entry(userID string) (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.index[userID]
	return e, ok
}

// Rank returns the user's 1-based rank.
func (b *Board) Rank(userID string) (int, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.index[userID]
	if !ok {
		return 0, false
	}
	r := b.list.Rank(e)
	return r, r > 0
}

func (b *Board) Top(limit int) []Ranked {
	return b.Page(1, limit)
}

// Page returns up to limit entries starting at the 1-based rank start.
func (b *Board) Page(start, limit int) []Ranked {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if start < 1 {
		start = 1
	}
	entries := b.list.Range(start, limit)
	out := make([]Ranked, len(entries))
	for i, e := range entries {
		out[i] = Ranked{Entry: e, Rank: start + i}
	}
	return out
}

func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.list.Len()
}

// Snapshot returns every entry in rank order.
func (b *Board) Snapshot() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.list.Range(1, b.list.Len())
}

// Rebuild replaces the skip list with one built from the user index and
// reports whether the old structure had drifted from it.
func (b *Board) Rebuild() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	drifted := b.list.Len() != len(b.index)
	fresh := NewSkipList()
	for _, e := range b.index {
		if !drifted && b.list.Rank(e) == 0 {
			drifted = true
		}
		fresh.Insert(e)
	}
	b.list = fresh
	return drifted
}

// Load bulk-inserts entries, e.g. when hydrating from storage.
func (b *Board) Load(entries []Entry) {
	for _, e := range entries {
		b.Upsert(e)
	}
}
