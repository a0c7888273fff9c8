// Package ranking implements an order-statistics skip list used to rank
// leaderboard entries. Every forward link records its span (the number of
// level-0 hops it covers), which gives O(log n) insert, delete and rank.
package ranking

import (
	"math/rand"
	"time"
)

const (
	maxLevel    = 32
	probability = 0.25
)

// Entry is one ranked member. Entries order by score descending, then by
// earliest update, then by user id so the order is total.
type Entry struct {
	UserID    string
	Score     float64
	UpdatedAt time.Time
}

// Before reports whether a ranks ahead of b.
func Before(a, b Entry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return a.UserID < b.UserID
}

type node struct {
	entry Entry
	next  []*node
	span  []int
}

// SkipList is not safe for concurrent use; Board adds the locking.
type SkipList struct {
	head   *node
	level  int
	length int
	rnd    *rand.Rand
}

func NewSkipList() *SkipList {
	return &SkipList{
		head:  &node{next: make([]*node, maxLevel), span: make([]int, maxLevel)},
		level: 1,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (l *SkipList) Len() int { return l.length }

func (l *SkipList) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && l.rnd.Float64() < probability {
		lvl++
	}
	return lvl
}

// Insert adds e. The caller guarantees no equal entry is present.
func (l *SkipList) Insert(e Entry) {
	var update [maxLevel]*node
	var rank [maxLevel]int

	x := l.head
	for i := l.level - 1; i >= 0; i-- {
		if i < l.level-1 {
			rank[i] = rank[i+1]
		}
		for x.next[i] != nil && Before(x.next[i].entry, e) {
			rank[i] += x.span[i]
			x = x.next[i]
		}
		update[i] = x
	}

	lvl := l.randomLevel()
	if lvl > l.level {
		for i := l.level; i < lvl; i++ {
			rank[i] = 0
			update[i] = l.head
			update[i].span[i] = l.length
		}
		l.level = lvl
	}

	n := &node{entry: e, next: make([]*node, lvl), span: make([]int, lvl)}
	for i := 0; i < lvl; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
		n.span[i] = update[i].span[i] - (rank[0] - rank[i])
		update[i].span[i] = (rank[0] - rank[i]) + 1
	}
	for i := lvl; i < l.level; i++ {
		update[i].span[i]++
	}
	l.length++
}

// Delete removes the entry equal to e and reports whether it was present.
func (l *SkipList) Delete(e Entry) bool {
	var update [maxLevel]*node

	x := l.head
	for i := l.level - 1; i >= 0; i-- {
		for x.next[i] != nil && Before(x.next[i].entry, e) {
			x = x.next[i]
		}
		update[i] = x
	}

	x = x.next[0]
	if x == nil || Before(x.entry, e) || Before(e, x.entry) {
		return false
	}

	for i := 0; i < l.level; i++ {
		if update[i].next[i] == x {
			update[i].span[i] += x.span[i] - 1
			update[i].next[i] = x.next[i]
		} else {
			update[i].span[i]--
		}
	}
	for l.level > 1 && l.head.next[l.level-1] == nil {
		l.level--
	}
	l.length--
	return true
}

// Rank returns the 1-based position of e, or 0 when it is absent.
func (l *SkipList) Rank(e Entry) int {
	rank := 0
	x := l.head
	for i := l.level - 1; i >= 0; i-- {
		for x.next[i] != nil && !Before(e, x.next[i].entry) {
			rank += x.span[i]
			x = x.next[i]
		}
		if x != l.head && !Before(x.entry, e) && !Before(e, x.entry) {
			return rank
		}
	}
	return 0
}

func (l *SkipList) nodeAt(rank int) *node {
	if rank < 1 || rank > l.length {
		return nil
	}
	traversed := 0
	x := l.head
	for i := l.level - 1; i >= 0; i-- {
		for x.next[i] != nil && traversed+x.span[i] <= rank {
			traversed += x.span[i]
			x = x.next[i]
		}
		if traversed == rank {
			return x
		}
	}
	return nil
}

// At returns the entry at the 1-based rank.
func (l *SkipList) At(rank int) (Entry, bool) {
	n := l.nodeAt(rank)
	if n == nil {
		return Entry{}, false
	}
	return n.entry, true
}

// Range returns up to n entries starting at the 1-based rank start.
func (l *SkipList) Range(start, n int) []Entry {
	if n <= 0 {
		return nil
	}
	x := l.nodeAt(start)
	out := make([]Entry, 0, min(n, l.length))
	for x != nil && len(out) < n {
		out = append(out, x.entry)
		x = x.next[0]
	}
	return out
}
