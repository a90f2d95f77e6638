package groupmutex

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLockSerializesSameKey(t *testing.T) {
	tbl := NewTable()
	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			tbl.Lock("group-1")
			defer tbl.Unlock("group-1")
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, order, 5)
}

func TestLockIsIndependentAcrossKeys(t *testing.T) {
	tbl := NewTable()
	tbl.Lock("group-1")
	defer tbl.Unlock("group-1")

	done := make(chan struct{})
	go func() {
		tbl.Lock("group-2")
		tbl.Unlock("group-2")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "lock on a different key should not block")
	}
}

func TestWithRunsUnderLock(t *testing.T) {
	tbl := NewTable()
	ran := false
	tbl.With("group-1", func() { ran = true })
	require.True(t, ran)
}
