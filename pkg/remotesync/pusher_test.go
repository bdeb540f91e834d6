// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package remotesync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AccelByte/extend-progression-engine/pkg/progression"
	"github.com/AccelByte/extend-progression-engine/pkg/store"
)

type blockingRemote struct {
	mu      sync.Mutex
	pushed  []progression.Snapshot
	pushErr error
	gate    chan struct{}
	arrived chan progression.Snapshot
}

func newBlockingRemote() *blockingRemote {
	return &blockingRemote{
		gate:    make(chan struct{}),
		arrived: make(chan progression.Snapshot, 16),
	}
}

func (r *blockingRemote) Pull(context.Context, string) (*progression.Snapshot, error) {
	return nil, nil
}

func (r *blockingRemote) Push(ctx context.Context, snapshot progression.Snapshot) error {
	select {
	case <-r.gate:
		// Cancellation wins even when the gate opened concurrently.
		if ctx.Err() != nil {
			return ctx.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pushErr != nil {
		return r.pushErr
	}
	r.pushed = append(r.pushed, snapshot)
	r.arrived <- snapshot
	return nil
}

func (r *blockingRemote) Reset(context.Context, string) error { return nil }

func (r *blockingRemote) open() {
	close(r.gate)
}

func (r *blockingRemote) pushedXP() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	xp := make([]int64, 0, len(r.pushed))
	for _, s := range r.pushed {
		xp = append(xp, s.CumulativeXP)
	}
	return xp
}

func waitForPush(t *testing.T, remote *blockingRemote) progression.Snapshot {
	t.Helper()
	select {
	case s := <-remote.arrived:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("push never arrived")
		return progression.Snapshot{}
	}
}

func TestPusherDeliversSnapshot(t *testing.T) {
	remote := newBlockingRemote()
	remote.open()

	p := NewPusher(remote, PusherConfig{})
	p.Start()
	defer p.Close()

	p.Enqueue(progression.Snapshot{IdentityID: "user-1", CumulativeXP: 10})

	got := waitForPush(t, remote)
	if got.CumulativeXP != 10 {
		t.Errorf("delivered xp=%d, expected 10", got.CumulativeXP)
	}
}

func TestPusherCoalescesLatestWins(t *testing.T) {
	remote := newBlockingRemote()

	p := NewPusher(remote, PusherConfig{})
	p.Start()
	defer p.Close()

	// The remote is gated shut, so after the worker takes the first
	// snapshot the rest pile into the one-slot queue and coalesce.
	for xp := int64(1); xp <= 5; xp++ {
		p.Enqueue(progression.Snapshot{IdentityID: "user-1", CumulativeXP: xp})
	}
	remote.open()

	// Either one or two deliveries depending on when the worker picked
	// up the first snapshot; the last one must be the latest state and
	// the intermediates must have coalesced away.
	last := waitForPush(t, remote)
	for last.CumulativeXP != 5 {
		next := waitForPush(t, remote)
		if next.CumulativeXP <= last.CumulativeXP {
			t.Fatalf("deliveries went backwards: %v", remote.pushedXP())
		}
		last = next
	}

	select {
	case s := <-remote.arrived:
		t.Errorf("unexpected extra push with xp=%d; deliveries %v", s.CumulativeXP, remote.pushedXP())
	case <-time.After(200 * time.Millisecond):
	}

	if n := len(remote.pushedXP()); n > 2 {
		t.Errorf("%d deliveries for 5 enqueues, expected at most 2 after coalescing", n)
	}
}

func TestPusherDropsAfterRetries(t *testing.T) {
	remote := newBlockingRemote()
	remote.pushErr = fmt.Errorf("authority down")
	remote.open()

	p := NewPusher(remote, PusherConfig{MaxRetries: 1, Timeout: time.Second})
	p.Start()
	defer p.Close()

	p.Enqueue(progression.Snapshot{IdentityID: "user-1", CumulativeXP: 10})

	// The drop is silent; a later snapshot still goes through once the
	// authority recovers.
	time.Sleep(100 * time.Millisecond)
	remote.mu.Lock()
	remote.pushErr = nil
	remote.mu.Unlock()

	p.Enqueue(progression.Snapshot{IdentityID: "user-1", CumulativeXP: 20})

	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-remote.arrived:
			if got.CumulativeXP == 20 {
				return
			}
		case <-deadline:
			t.Fatalf("recovered push never arrived; deliveries %v", remote.pushedXP())
		}
	}
}

func TestPusherCloseCancelsInFlight(t *testing.T) {
	remote := newBlockingRemote() // gate never opens: pushes hang on ctx

	p := NewPusher(remote, PusherConfig{})
	p.Start()
	p.Enqueue(progression.Snapshot{IdentityID: "user-1", CumulativeXP: 10})

	done := make(chan struct{})
	go func() {
		p.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not cancel the in-flight push")
	}
}

func TestPusherEnqueueNeverBlocks(t *testing.T) {
	remote := newBlockingRemote() // worker never started, queue holds one

	p := NewPusher(remote, PusherConfig{})

	done := make(chan struct{})
	go func() {
		for xp := int64(0); xp < 100; xp++ {
			p.Enqueue(progression.Snapshot{IdentityID: "user-1", CumulativeXP: xp})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked with a full queue")
	}
}

func TestPusherDiscardDropsPendingPush(t *testing.T) {
	remote := newBlockingRemote()

	p := NewPusher(remote, PusherConfig{})
	p.Start()
	defer p.Close()

	// Gate shut: the first snapshot goes in flight and hangs, the second
	// waits in the queue. Discard must kill both.
	p.Enqueue(progression.Snapshot{IdentityID: "user-1", CumulativeXP: 10})
	p.Enqueue(progression.Snapshot{IdentityID: "user-1", CumulativeXP: 11})
	p.Discard()

	remote.open()
	p.Enqueue(progression.Snapshot{IdentityID: "user-1", CumulativeXP: 20})

	got := waitForPush(t, remote)
	if got.CumulativeXP != 20 {
		t.Errorf("delivered xp=%d, expected only the post-discard 20", got.CumulativeXP)
	}
	select {
	case s := <-remote.arrived:
		t.Errorf("discarded snapshot still delivered: xp=%d", s.CumulativeXP)
	case <-time.After(200 * time.Millisecond):
	}
	if xp := remote.pushedXP(); len(xp) != 1 {
		t.Errorf("deliveries = %v, expected [20] only", xp)
	}
}

func TestResetNotResurrectedByStalePush(t *testing.T) {
	remote := newBlockingRemote()

	p := NewPusher(remote, PusherConfig{})
	p.Start()
	defer p.Close()

	c, err := progression.NewCoordinator(progression.CoordinatorConfig{
		IdentityID:    "user-1",
		Authoritative: true,
	}, progression.CoordinatorDeps{
		Store:    store.NewMemoryStore(),
		Resolver: newTestResolver(t),
		Remote:   remote,
		Pusher:   p,
	})
	if err != nil {
		t.Fatalf("failed to create coordinator: %v", err)
	}
	defer c.Close()

	// The committed push hangs on the gated remote while the reset runs,
	// mimicking a slow authority at logout time.
	if _, err := c.Commit(context.Background(), 60, "session"); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if err := c.ResetIdentity(context.Background()); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	remote.open()
	time.Sleep(300 * time.Millisecond)

	if xp := remote.pushedXP(); len(xp) != 0 {
		t.Fatalf("stale push landed after reset: %v", xp)
	}
}
