package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// blockedFor reports whether ch stays open for d.
func blockedFor(ch <-chan struct{}, d time.Duration) bool {
	select {
	case <-ch:
		return false
	case <-time.After(d):
		return true
	}
}

func TestGuardReadersDoNotBlockEachOther(t *testing.T) {
	var drains atomic.Int32
	g := NewGuard(func() { drains.Add(1) })

	const n = 16
	entered := make(chan struct{}, n)
	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.RLock()
			entered <- struct{}{}
			<-release
			g.RUnlock()
		}()
	}

	timeout := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-entered:
		case <-timeout:
			t.Fatalf("only %d of %d readers entered", i, n)
		}
	}
	require.Equal(t, n, g.Readers())

	close(release)
	wg.Wait()
	require.Equal(t, int32(1), drains.Load(), "drain hook must run once per wave")
	require.Equal(t, 0, g.Readers())
}

func TestGuardWriterWaitsForWave(t *testing.T) {
	var drains atomic.Int32
	g := NewGuard(func() { drains.Add(1) })

	const n = 4
	for i := 0; i < n; i++ {
		g.RLock()
	}

	locked := make(chan struct{})
	go func() {
		g.Lock()
		close(locked)
	}()

	require.True(t, blockedFor(locked, 50*time.Millisecond), "writer entered during a reader wave")
	for i := 0; i < n-1; i++ {
		g.RUnlock()
	}
	require.True(t, blockedFor(locked, 50*time.Millisecond), "writer entered before the last reader left")
	require.Equal(t, int32(0), drains.Load())

	g.RUnlock()
	require.False(t, blockedFor(locked, 5*time.Second), "writer never entered")
	require.Equal(t, int32(1), drains.Load())
	g.Unlock()
}

func TestGuardReadersWaitForWriter(t *testing.T) {
	g := NewGuard(nil)
	g.Lock()

	entered := make(chan struct{})
	go func() {
		g.RLock()
		close(entered)
		g.RUnlock()
	}()

	require.True(t, blockedFor(entered, 50*time.Millisecond), "reader entered while a writer held the guard")
	g.Unlock()
	require.False(t, blockedFor(entered, 5*time.Second), "reader never entered")
}

func TestGuardLateReaderExtendsWave(t *testing.T) {
	var drains atomic.Int32
	g := NewGuard(func() { drains.Add(1) })

	g.RLock()
	locked := make(chan struct{})
	go func() {
		g.Lock()
		close(locked)
	}()
	require.True(t, blockedFor(locked, 20*time.Millisecond))

	// a reader arriving while the writer waits joins the running wave
	g.RLock()
	g.RUnlock()
	require.True(t, blockedFor(locked, 20*time.Millisecond))
	require.Equal(t, int32(0), drains.Load())

	g.RUnlock()
	require.False(t, blockedFor(locked, 5*time.Second))
	g.Unlock()
	require.Equal(t, int32(1), drains.Load())
}

func TestGuardUnbalancedUnlockPanics(t *testing.T) {
	g := NewGuard(nil)
	require.Panics(t, func() { g.RUnlock() })
	require.Panics(t, func() { g.Unlock() })
}
