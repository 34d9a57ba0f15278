package usecase

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUserLocks_ExcludesSameUser(t *testing.T) {
	locks := newUserLocks()
	var holders, peak int32

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("U1")
			n := atomic.AddInt32(&holders, 1)
			if n > atomic.LoadInt32(&peak) {
				atomic.StoreInt32(&peak, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&holders, -1)
			unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&peak))
	require.Zero(t, locks.size())
}

func TestUserLocks_DifferentUsersDoNotBlock(t *testing.T) {
	locks := newUserLocks()
	unlockA := locks.Lock("A")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("B")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock for B blocked on A")
	}
	require.Equal(t, 1, locks.size())
}
