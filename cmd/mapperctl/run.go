package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/backkem/mapper/pkg/db"
	"github.com/backkem/mapper/pkg/mapper"
)

// pollInterval is how long each poller may block per round.
const pollInterval = 10 * time.Millisecond

// interruptContext returns a context cancelled on SIGINT or SIGTERM.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// pollLoop polls until ctx is done.
func pollLoop(ctx context.Context, pollers ...mapper.Poller) {
	for ctx.Err() == nil {
		for _, p := range pollers {
			p.Poll(pollInterval)
		}
	}
}

// pollUntil polls until cond holds, timeout elapses or ctx is done.
func pollUntil(ctx context.Context, timeout time.Duration, cond func() bool, pollers ...mapper.Poller) bool {
	deadline := time.Now().Add(timeout)
	for ctx.Err() == nil && time.Now().Before(deadline) {
		for _, p := range pollers {
			p.Poll(pollInterval)
		}
		if cond() {
			return true
		}
	}
	return false
}

// printCallbacks registers callbacks that print every database change.
// Link callbacks are skipped when links is false.
func printCallbacks(w io.Writer, d *db.Database, links bool) {
	d.AddDeviceCallback(func(rec *db.DeviceRecord, a db.Action) { printRecord(w, "device", rec, a) })
	d.AddSignalCallback(func(rec *db.SignalRecord, a db.Action) { printRecord(w, "signal", rec, a) })
	d.AddMappingCallback(func(rec *db.MappingRecord, a db.Action) { printRecord(w, "mapping", rec, a) })
	if links {
		d.AddLinkCallback(func(rec *db.LinkRecord, a db.Action) { printRecord(w, "link", rec, a) })
	}
}

func printRecord(w io.Writer, kind string, rec fmt.Stringer, action db.Action) {
	fmt.Fprintf(w, "%s callback -\n  record: %v\n  action: %s\n", kind, rec, action)
}
