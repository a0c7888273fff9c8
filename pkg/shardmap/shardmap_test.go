package shardmap

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdate_StoresOnlyOnSuccess(t *testing.T) {
	s := New[string, int](4, StringHash)

	_, err := s.Update("a", func(v int, ok bool) (int, error) {
		assert.False(t, ok)
		return 0, errors.New("boom")
	})
	require.Error(t, err)

	_, ok := s.Get("a")
	assert.False(t, ok)

	v, err := s.Update("a", func(v int, ok bool) (int, error) { return v + 5, nil })
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	got, ok := s.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 5, got)
}

func TestUpdate_SameKeySerialized(t *testing.T) {
	s := New[string, int](8, StringHash)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Update("user", func(v int, _ bool) (int, error) { return v + 1, nil })
		}()
	}
	wg.Wait()

	got, _ := s.Get("user")
	assert.Equal(t, 200, got)
}

func TestUpdate_OtherKeysNotBlocked(t *testing.T) {
	// one shard forces both keys into the same partition
	s := New[string, int](1, StringHash)

	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = s.Update("slow", func(v int, _ bool) (int, error) {
			close(started)
			<-hold
			return v, nil
		})
	}()
	<-started

	done := make(chan struct{})
	go func() {
		_, _ = s.Update("fast", func(v int, _ bool) (int, error) { return 1, nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("update on another key blocked behind a held key")
	}
	close(hold)
}

func TestKeysAndDelete(t *testing.T) {
	s := New[string, int](4, StringHash)
	for i := 0; i < 10; i++ {
		_, _ = s.Update(fmt.Sprintf("k%d", i), func(int, bool) (int, error) { return i, nil })
	}
	assert.Len(t, s.Keys(), 10)

	s.Delete("k3")
	assert.Equal(t, 9, s.Len())

	var seen bool
	s.View("k3", func(_ int, ok bool) { seen = ok })
	assert.False(t, seen)
}

func TestDeleteIf_ChecksUnderKeyLock(t *testing.T) {
	s := New[string, int](4, StringHash)
	_, _ = s.Update("k", func(int, bool) (int, error) { return 1, nil })

	assert.False(t, s.DeleteIf("k", func(v int) bool { return v > 1 }))
	assert.False(t, s.DeleteIf("missing", func(int) bool { return true }))

	inside := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = s.Update("k", func(v int, _ bool) (int, error) {
			close(inside)
			<-release
			return v + 5, nil
		})
	}()
	<-inside

	deleted := make(chan bool)
	go func() {
		deleted <- s.DeleteIf("k", func(v int) bool { return v == 1 })
	}()
	select {
	case <-deleted:
		t.Fatal("DeleteIf ran while an update held the key")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	assert.False(t, <-deleted, "predicate must see the updated value")
	v, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, 6, v)
}

func TestDeleteIf_WaitingUpdateStartsFresh(t *testing.T) {
	s := New[string, int](4, StringHash)
	_, _ = s.Update("k", func(int, bool) (int, error) { return 7, nil })

	inPred := make(chan struct{})
	release := make(chan struct{})
	done := make(chan bool)
	go func() {
		done <- s.DeleteIf("k", func(int) bool {
			close(inPred)
			<-release
			return true
		})
	}()
	<-inPred

	sawOld := make(chan bool, 1)
	updated := make(chan struct{})
	go func() {
		_, _ = s.Update("k", func(v int, ok bool) (int, error) {
			sawOld <- ok
			return v + 1, nil
		})
		close(updated)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	assert.True(t, <-done)
	<-updated
	assert.False(t, <-sawOld, "update must not apply to the removed entry")

	v, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, s.Len())
}
