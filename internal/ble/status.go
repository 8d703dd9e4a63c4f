package ble

import (
	"context"
	"time"
)

// StatusSource is anything that reports a connection Status.
type StatusSource interface {
	Status() Status
}

// WatchStatus polls src every interval and calls fn with the first
// snapshot and with every snapshot that differs from the previous one.
// It returns when ctx is done.
func WatchStatus(ctx context.Context, src StatusSource, interval time.Duration, fn func(Status)) {
	last := src.Status()
	fn(last)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		st := src.Status()
		if st != last {
			last = st
			fn(st)
		}
	}
}
