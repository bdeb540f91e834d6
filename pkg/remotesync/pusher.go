// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package remotesync

import (
	"context"
	"sync"
	"time"

	"github.com/AccelByte/extend-progression-engine/pkg/metrics"
	"github.com/AccelByte/extend-progression-engine/pkg/progression"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Pusher is the asynchronous push channel between the commit path and
// the remote authority. Enqueue never blocks; pending snapshots for the
// same worker coalesce latest-wins, since every snapshot carries the
// full cumulative state and the authority merges monotonically. Push
// failures are retried with bounded exponential backoff and then
// dropped: the next successful push carries the state forward, so no
// permanent loss occurs while local storage survives.
type Pusher struct {
	client     progression.RemoteClient
	maxRetries uint64
	timeout    time.Duration

	queue  chan pushItem
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// epoch generations invalidate stale work on Discard: queued items
	// from an older epoch are skipped, and the in-flight push runs under
	// epochCtx so cancelling it aborts the attempt.
	epochMu     sync.Mutex
	epoch       uint64
	epochCtx    context.Context
	epochCancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
}

type pushItem struct {
	snapshot progression.Snapshot
	epoch    uint64
}

// PusherConfig tunes the push worker.
type PusherConfig struct {
	// MaxRetries bounds backoff retries per push (default 2, so up to
	// 3 attempts total).
	MaxRetries uint64

	// Timeout bounds each individual push attempt.
	Timeout time.Duration
}

// NewPusher creates a pusher for the given remote client.
func NewPusher(client progression.RemoteClient, cfg PusherConfig) *Pusher {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	epochCtx, epochCancel := context.WithCancel(ctx)
	return &Pusher{
		client:      client,
		maxRetries:  cfg.MaxRetries,
		timeout:     cfg.Timeout,
		queue:       make(chan pushItem, 1),
		ctx:         ctx,
		cancel:      cancel,
		epochCtx:    epochCtx,
		epochCancel: epochCancel,
	}
}

// Start launches the push worker.
func (p *Pusher) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.run()
	})
}

// Enqueue schedules a snapshot for delivery to the authority. It never
// blocks: when a push is already pending, the older pending snapshot is
// replaced by this one.
func (p *Pusher) Enqueue(snapshot progression.Snapshot) {
	p.epochMu.Lock()
	item := pushItem{snapshot: snapshot, epoch: p.epoch}
	p.epochMu.Unlock()

	for {
		select {
		case p.queue <- item:
			return
		default:
		}
		// Queue full: evict the stale pending snapshot and try again.
		select {
		case <-p.queue:
		default:
		}
	}
}

// Discard drops the pending snapshot and aborts any in-flight push.
// Invoked on identity reset, so a push accepted before the reset cannot
// land afterwards and resurrect the cleared state.
func (p *Pusher) Discard() {
	p.epochMu.Lock()
	p.epoch++
	p.epochCancel()
	p.epochCtx, p.epochCancel = context.WithCancel(p.ctx)
	p.epochMu.Unlock()

	select {
	case <-p.queue:
	default:
	}
}

// Close cancels in-flight pushes and stops the worker. Used on logout
// so a stale push cannot resurrect a superseded identity's state.
func (p *Pusher) Close() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
	})
}

func (p *Pusher) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case item := <-p.queue:
			p.epochMu.Lock()
			current, epochCtx := p.epoch, p.epochCtx
			p.epochMu.Unlock()
			if item.epoch != current {
				continue
			}
			p.push(epochCtx, item.snapshot)
		}
	}
}

func (p *Pusher) push(ctx context.Context, snapshot progression.Snapshot) {
	attempt := 0
	operation := func() error {
		attempt++
		pushCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		if err := p.client.Push(pushCtx, snapshot); err != nil {
			if attempt > 1 {
				metrics.RemotePushesTotal.WithLabelValues("retried").Inc()
			}
			return err
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if ctx.Err() != nil {
			metrics.RemotePushesTotal.WithLabelValues("discarded").Inc()
			logrus.Debugf("discarded remote push for %s: %v", snapshot.IdentityID, ctx.Err())
			return
		}
		// Never surfaced to the user; the next commit pushes newer state.
		metrics.RemotePushesTotal.WithLabelValues("dropped").Inc()
		logrus.Warnf("dropping remote push for %s after %d attempts: %v",
			snapshot.IdentityID, attempt, &progression.RemoteUnavailableError{Op: "push", Err: err})
		return
	}

	metrics.RemotePushesTotal.WithLabelValues("ok").Inc()
	logrus.Debugf("remote push for %s delivered (xp=%d)", snapshot.IdentityID, snapshot.CumulativeXP)
}
