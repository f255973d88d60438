package cardcache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestExecutorBoundsConcurrency(t *testing.T) {
	const bound = 2
	exec := newExecutor(bound)
	defer exec.Close()

	var current, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		err := exec.Submit(func() {
			defer wg.Done()
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	wg.Wait()
	if p := peak.Load(); p > bound {
		t.Fatalf("observed %d concurrent tasks, bound is %d", p, bound)
	}
}

func TestExecutorRejectsAfterClose(t *testing.T) {
	exec := newExecutor(1)
	exec.Close()
	exec.Close() // idempotent

	if err := exec.Submit(func() {}); err != ErrClosed {
		t.Fatalf("Submit after close = %v, want ErrClosed", err)
	}
	if err := exec.Spawn(func() {}); err != ErrClosed {
		t.Fatalf("Spawn after close = %v, want ErrClosed", err)
	}
}

func TestExecutorCloseAbandonsQueued(t *testing.T) {
	exec := newExecutor(1)

	started := make(chan struct{})
	release := make(chan struct{})
	if err := exec.Submit(func() {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	var ran atomic.Bool
	if err := exec.Submit(func() { ran.Store(true) }); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := make(chan struct{})
	go func() {
		exec.Close()
		close(done)
	}()

	select {
	case <-exec.closing():
	case <-time.After(time.Second):
		t.Fatalf("closing signal never fired")
	}
	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Close did not return")
	}
	if ran.Load() {
		t.Fatalf("queued task ran after close")
	}
}

func TestExecutorSpawnIsUngated(t *testing.T) {
	exec := newExecutor(1)
	defer exec.Close()

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	if err := exec.Submit(func() {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	// the only permit is held; an ungated task must still run
	ran := make(chan struct{})
	if err := exec.Spawn(func() { close(ran) }); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatalf("Spawn task blocked behind the admission gate")
	}
}
