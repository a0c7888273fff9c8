package ranking

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSkipList_RankAndRangeMatchSortedOrder(t *testing.T) {
	l := NewSkipList()
	rnd := rand.New(rand.NewSource(7))

	var all []Entry
	for i := 0; i < 500; i++ {
		e := Entry{
			UserID:    fmt.Sprintf("u%03d", i),
			Score:     float64(rnd.Intn(50)),
			UpdatedAt: base.Add(time.Duration(rnd.Intn(100)) * time.Second),
		}
		all = append(all, e)
		l.Insert(e)
	}
	sort.Slice(all, func(i, j int) bool { return Before(all[i], all[j]) })

	require.Equal(t, len(all), l.Len())
	for i, e := range all {
		assert.Equal(t, i+1, l.Rank(e), "rank of %s", e.UserID)
		got, ok := l.At(i + 1)
		require.True(t, ok)
		assert.Equal(t, e, got)
	}
	assert.Equal(t, all[10:15], l.Range(11, 5))

	// delete every third entry and re-check ranks
	var kept []Entry
	for i, e := range all {
		if i%3 == 0 {
			require.True(t, l.Delete(e))
			continue
		}
		kept = append(kept, e)
	}
	require.Equal(t, len(kept), l.Len())
	for i, e := range kept {
		assert.Equal(t, i+1, l.Rank(e))
	}
	assert.False(t, l.Delete(all[0]))
	assert.Equal(t, 0, l.Rank(all[0]))
}

func TestBefore_TieBreaksOnEarliestUpdate(t *testing.T) {
	early := Entry{UserID: "b", Score: 10, UpdatedAt: base}
	late := Entry{UserID: "a", Score: 10, UpdatedAt: base.Add(time.Second)}
	assert.True(t, Before(early, late))
	assert.False(t, Before(late, early))

	higher := Entry{UserID: "z", Score: 11, UpdatedAt: base.Add(time.Hour)}
	assert.True(t, Before(higher, early))
}

func TestBoard_UpsertRepositionsAndIgnoresStaleWrites(t *testing.T) {
	b := NewBoard("stoichiometry")
	require.True(t, b.Upsert(Entry{UserID: "alice", Score: 10, UpdatedAt: base}))
	require.True(t, b.Upsert(Entry{UserID: "bob", Score: 20, UpdatedAt: base}))

	r, ok := b.Rank("alice")
	require.True(t, ok)
	assert.Equal(t, 2, r)

	require.True(t, b.Upsert(Entry{UserID: "alice", Score: 30, UpdatedAt: base.Add(time.Minute)}))
	r, _ = b.Rank("alice")
	assert.Equal(t, 1, r)
	assert.Equal(t, 2, b.Len())

	// older write loses
	assert.False(t, b.Upsert(Entry{UserID: "alice", Score: 1, UpdatedAt: base}))
	e, _ := b.Entry("alice")
	assert.Equal(t, 30.0, e.Score)

	_, ok = b.Rank("carol")
	assert.False(t, ok)
}

func TestBoard_ConcurrentUpdatesStayOrdered(t *testing.T) {
	b := NewBoard("equation-speed")

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < 300; i++ {
				b.Upsert(Entry{
					UserID:    fmt.Sprintf("user-%d", rnd.Intn(40)),
					Score:     float64(rnd.Intn(20)),
					UpdatedAt: base.Add(time.Duration(i) * time.Millisecond),
				})
				_ = b.Top(10)
				_, _ = b.Rank(fmt.Sprintf("user-%d", rnd.Intn(40)))
			}
		}(w)
	}
	wg.Wait()

	snap := b.Snapshot()
	seen := map[string]bool{}
	for i, e := range snap {
		assert.False(t, seen[e.UserID], "duplicate %s", e.UserID)
		seen[e.UserID] = true
		if i > 0 {
			prev := snap[i-1]
			assert.True(t, prev.Score > e.Score ||
				(prev.Score == e.Score && !prev.UpdatedAt.After(e.UpdatedAt)),
				"entries %d and %d out of order", i-1, i)
		}
	}
	assert.Equal(t, len(seen), b.Len())
}

func TestBoard_RebuildKeepsRanks(t *testing.T) {
	b := NewBoard("total-score")
	for i := 0; i < 50; i++ {
		b.Upsert(Entry{UserID: fmt.Sprintf("u%d", i), Score: float64(i % 7), UpdatedAt: base.Add(time.Duration(i) * time.Second)})
	}
	before := b.Snapshot()

	assert.False(t, b.Rebuild())
	assert.Equal(t, before, b.Snapshot())

	top := b.Top(3)
	require.Len(t, top, 3)
	assert.Equal(t, 1, top[0].Rank)
	assert.Equal(t, 6.0, top[0].Score)
}
