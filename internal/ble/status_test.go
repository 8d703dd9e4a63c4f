package ble

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeStatusSource struct {
	mu sync.Mutex
	st Status
}

func (f *fakeStatusSource) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func (f *fakeStatusSource) set(st Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.st = st
}

func TestWatchStatusReportsChanges(t *testing.T) {
	src := &fakeStatusSource{st: Status{Phase: "idle"}}
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	var seen []Status
	done := make(chan struct{})
	go func() {
		defer close(done)
		WatchStatus(ctx, src, 5*time.Millisecond, func(st Status) {
			mu.Lock()
			seen = append(seen, st)
			mu.Unlock()
		})
	}()

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(seen)
	}

	waitFor(t, time.Second, func() bool { return count() == 1 })
	time.Sleep(30 * time.Millisecond) // unchanged status is not repeated
	if n := count(); n != 1 {
		t.Fatalf("got %d reports for an unchanged status, want 1", n)
	}

	src.set(Status{Phase: "active", Connected: true})
	waitFor(t, time.Second, func() bool { return count() == 2 })

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WatchStatus did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if !seen[1].Connected || seen[1].Phase != "active" {
		t.Errorf("second report = %+v", seen[1])
	}
}
