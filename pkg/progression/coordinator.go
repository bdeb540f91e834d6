package progression

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AccelByte/extend-progression-engine/pkg/common"
	"github.com/AccelByte/extend-progression-engine/pkg/content"
	"github.com/AccelByte/extend-progression-engine/pkg/metrics"
	"github.com/AccelByte/extend-progression-engine/pkg/store"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	// SnapshotKeyPrefix prefixes every locally persisted snapshot key.
	SnapshotKeyPrefix = "progression:snapshot:"

	defaultRemoteTimeout = 3 * time.Second
)

// RemoteClient is the engine's view of the remote authority. Pull and
// Push are fallible and retryable; both must be idempotent, and the
// authority applies the same max-wins merge on receipt since multiple
// devices may push concurrently.
type RemoteClient interface {
	// Pull fetches the authoritative snapshot, or (nil, nil) when the
	// authority holds none for this identity.
	Pull(ctx context.Context, identityID string) (*Snapshot, error)

	// Push sends a snapshot to the authority.
	Push(ctx context.Context, snapshot Snapshot) error

	// Reset removes the authoritative snapshot for the identity.
	Reset(ctx context.Context, identityID string) error
}

// RemotePusher is the asynchronous, fire-and-forget push channel used
// by the commit path. Enqueue must never block. Discard drops any
// pending or in-flight push; later enqueues proceed normally.
type RemotePusher interface {
	Enqueue(snapshot Snapshot)
	Discard()
}

// CoordinatorConfig configures one identity's coordinator.
type CoordinatorConfig struct {
	IdentityID string

	// Authoritative is true when the identity is backed by an
	// authenticated account, making the remote authority relevant.
	Authoritative bool

	// RemoteTimeout bounds the remote read during Load so offline
	// users are never blocked waiting on the network.
	RemoteTimeout time.Duration

	Session content.SessionConfig
}

// CoordinatorDeps lists the collaborators a coordinator is wired with.
// Remote and Pusher may be nil for guest/offline operation.
type CoordinatorDeps struct {
	Store    store.Store
	Resolver *RewardResolver
	Bonus    *BonusRoller
	Remote   RemoteClient
	Pusher   RemotePusher
	Notifier *Notifier
}

// Coordinator is the single mutation gate for all XP-affecting
// operations of one identity. It merges the in-memory, locally
// persisted, and remote snapshots with the monotonic max-wins rule,
// derives level and unlock sets from the merged XP, persists locally
// before returning, and propagates commits to the remote authority
// (asynchronously) and to every other replica (via the notifier).
type Coordinator struct {
	cfg      CoordinatorConfig
	store    store.Store
	resolver *RewardResolver
	bonus    *BonusRoller
	remote   RemoteClient
	pusher   RemotePusher
	notifier *Notifier

	mu      sync.Mutex
	current Snapshot
	loaded  bool

	// pubMu serializes the publish path so replicas never observe a
	// snapshot older than one already published. It is never acquired
	// while mu is held.
	pubMu   sync.Mutex
	pubXP   int64
	pubSeen bool

	removeAbsorber func()

	retryCtx    context.Context
	retryCancel context.CancelFunc
	retrying    bool
}

// NewCoordinator creates a coordinator and registers an absorber for
// foreign broadcasts on the notifier.
func NewCoordinator(cfg CoordinatorConfig, deps CoordinatorDeps) (*Coordinator, error) {
	if cfg.IdentityID == "" {
		return nil, fmt.Errorf("identity ID is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("local store is required")
	}
	if deps.Resolver == nil {
		return nil, fmt.Errorf("reward resolver is required")
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = defaultRemoteTimeout
	}

	retryCtx, retryCancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:         cfg,
		store:       deps.Store,
		resolver:    deps.Resolver,
		bonus:       deps.Bonus,
		remote:      deps.Remote,
		pusher:      deps.Pusher,
		notifier:    deps.Notifier,
		retryCtx:    retryCtx,
		retryCancel: retryCancel,
	}

	if c.notifier != nil {
		c.removeAbsorber = c.notifier.AddAbsorber(c.Absorb)
	}

	return c, nil
}

// Load reads the local snapshot and, for authoritative identities, the
// remote snapshot (bounded by RemoteTimeout), merges them, and returns
// the result. A failed or timed-out remote read degrades to local-only
// state and schedules a bounded background retry; it never blocks
// progression.
func (c *Coordinator) Load(ctx context.Context) Snapshot {
	scope := common.GetScopeFromContext(ctx, "progression.load")
	defer scope.Finish()

	c.mu.Lock()
	merged := c.loadLocalLocked()
	if c.loaded {
		merged = Merge(c.current, merged, c.resolver)
	}

	if c.cfg.Authoritative && c.remote != nil {
		pullCtx, cancel := context.WithTimeout(scope.Ctx, c.cfg.RemoteTimeout)
		remote, err := c.remote.Pull(pullCtx, c.cfg.IdentityID)
		cancel()
		if err != nil {
			scope.Log.Warnf("remote pull failed, continuing with local state: %v",
				&RemoteUnavailableError{Op: "pull", Err: err})
			c.schedulePullRetryLocked()
		} else if remote != nil {
			merged = Merge(merged, *remote, c.resolver)
		}
	}

	c.current = merged
	c.loaded = true
	if err := c.persistLocked(merged); err != nil {
		scope.Log.Warnf("failed to persist merged snapshot: %v", err)
	}
	out := merged.Clone()
	c.mu.Unlock()

	scope.Log.Debugf("loaded snapshot for %s: xp=%d level=%d", c.cfg.IdentityID, out.CumulativeXP, out.Level)
	return out
}

// Commit is the only path that may increase cumulative XP. The delta
// must be non-negative; a negative delta is rejected with
// ErrInvalidDelta and local state stays untouched. The local write
// completes synchronously before Commit returns; the remote push is
// enqueued fire-and-forget and other replicas are notified last.
//
// A failed local write still updates the in-memory snapshot for the
// current session and is reported as a LocalPersistenceError alongside
// the result.
func (c *Coordinator) Commit(ctx context.Context, xpDelta int64, reason string) (*Result, error) {
	if xpDelta < 0 {
		return nil, fmt.Errorf("rejecting delta %d for %s: %w", xpDelta, reason, ErrInvalidDelta)
	}

	scope := common.GetScopeFromContext(ctx, "progression.commit")
	defer scope.Finish()

	c.mu.Lock()
	c.ensureLoadedLocked()
	old := c.current

	next := old.Clone()
	next.CumulativeXP = old.CumulativeXP + xpDelta
	next.Level = c.resolver.Table().LevelForXP(next.CumulativeXP)
	next.UnlockedItemIDs = unionSorted(old.UnlockedItemIDs, c.resolver.ItemsForLevel(next.Level))
	next.AvailableTierIDs = c.resolver.TiersForLevel(next.Level)
	next.LastWriteTimestamp = time.Now().UTC()

	delta := Delta{
		XPGained:             xpDelta,
		LeveledUp:            next.Level > old.Level,
		NewlyUnlockedItemIDs: subtractSorted(next.UnlockedItemIDs, old.UnlockedItemIDs),
		NewlyUnlockedTierIDs: subtractSorted(next.AvailableTierIDs, old.AvailableTierIDs),
	}
	for level := old.Level + 1; level <= next.Level; level++ {
		delta.CrossedLevels = append(delta.CrossedLevels, level)
	}

	persistErr := c.persistLocked(next)
	// Local persistence failure degrades to in-memory state for the
	// current session; it must not block progression.
	c.current = next
	published := next.Clone()
	c.mu.Unlock()

	metrics.CommitsTotal.WithLabelValues(reason).Inc()
	if len(delta.CrossedLevels) > 0 {
		metrics.LevelUpsTotal.Add(float64(len(delta.CrossedLevels)))
	}

	c.publishOrdered(published, false)

	scope.Log.Infof("committed %d xp (%s) for %s: xp=%d level=%d crossed=%v",
		xpDelta, reason, c.cfg.IdentityID, published.CumulativeXP, published.Level, delta.CrossedLevels)

	result := &Result{Snapshot: published, Delta: delta}
	if persistErr != nil {
		scope.Log.Errorf("local persistence failed, continuing in memory: %v", persistErr)
		return result, &LocalPersistenceError{Err: persistErr}
	}
	return result, nil
}

// AwardFromSession converts completed focus-session minutes into XP,
// applies a single bonus roll, and commits the result.
func (c *Coordinator) AwardFromSession(ctx context.Context, minutes int) (*Result, error) {
	if minutes < 0 {
		return nil, fmt.Errorf("rejecting session of %d minutes: %w", minutes, ErrInvalidDelta)
	}
	if max := c.cfg.Session.MaxMinutesPerAward; max > 0 && minutes > max {
		logrus.Debugf("clamping session award from %d to %d minutes", minutes, max)
		minutes = max
	}

	base := int64(minutes) * c.cfg.Session.XPPerMinute

	roll := BonusRoll{Multiplier: content.Rational{Num: 1, Den: 1}, Class: BonusNone}
	if c.bonus != nil {
		roll = c.bonus.Roll()
	}
	metrics.BonusRollsTotal.WithLabelValues(string(roll.Class)).Inc()

	result, err := c.Commit(ctx, roll.Multiplier.Apply(base), "session")
	if result != nil {
		result.Bonus = &roll
	}
	return result, err
}

// AwardFixedAmount commits a fixed XP amount with the given reason.
func (c *Coordinator) AwardFixedAmount(ctx context.Context, amount int64, reason string) (*Result, error) {
	return c.Commit(ctx, amount, reason)
}

// Snapshot returns the current merged snapshot, loading local state on
// first use.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureLoadedLocked()
	return c.current.Clone()
}

// Absorb merges a snapshot observed from another replica (broadcast or
// background remote retry) into the current state. The merge is
// monotonic, so absorbing stale state is a no-op. Changed state is
// persisted and relayed to in-process subscribers only, never
// re-broadcast.
func (c *Coordinator) Absorb(snapshot Snapshot) {
	if snapshot.IdentityID != "" && snapshot.IdentityID != c.cfg.IdentityID {
		logrus.Debugf("ignoring snapshot for foreign identity %s", snapshot.IdentityID)
		return
	}

	c.mu.Lock()
	c.ensureLoadedLocked()
	merged := Merge(c.current, snapshot, c.resolver)
	changed := !snapshotsEqual(merged, c.current)
	if changed {
		if err := c.persistLocked(merged); err != nil {
			logrus.Warnf("failed to persist absorbed snapshot: %v", err)
		}
		c.current = merged
	}
	published := merged.Clone()
	c.mu.Unlock()

	if !changed {
		return
	}

	metrics.BroadcastsTotal.WithLabelValues("absorbed").Inc()
	c.publishOrdered(published, true)
}

// publishOrdered relays a snapshot to the remote pusher and the
// notifier. Commits race from mu release to publish, so a snapshot
// superseded by an already-published newer one is skipped; subscribers
// therefore observe a non-decreasing XP sequence. localOnly restricts
// fan-out to in-process subscribers (used when absorbing a foreign
// broadcast, which must not be echoed back out or re-pushed).
func (c *Coordinator) publishOrdered(snapshot Snapshot, localOnly bool) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	if c.pubSeen && snapshot.CumulativeXP < c.pubXP {
		return
	}
	c.pubXP = snapshot.CumulativeXP
	c.pubSeen = true

	if !localOnly && c.pusher != nil {
		c.pusher.Enqueue(snapshot.Clone())
	}
	if c.notifier == nil {
		return
	}
	if localOnly {
		c.notifier.PublishLocal(snapshot)
		return
	}
	c.notifier.Publish(snapshot)
	metrics.BroadcastsTotal.WithLabelValues("published").Inc()
}

// ResetIdentity atomically clears the in-memory and locally persisted
// state and, for authoritative identities, issues a remote reset.
// Pending background retries and any queued or in-flight remote push
// are cancelled so stale state cannot resurrect the cleared identity.
func (c *Coordinator) ResetIdentity(ctx context.Context) error {
	scope := common.GetScopeFromContext(ctx, "progression.reset")
	defer scope.Finish()

	c.mu.Lock()
	c.retryCancel()
	c.retryCtx, c.retryCancel = context.WithCancel(context.Background())
	c.retrying = false

	fresh := c.normalize(NewSnapshot(c.cfg.IdentityID))
	deleteErr := c.store.Delete(c.snapshotKey())
	c.current = fresh
	c.loaded = true
	published := fresh.Clone()
	c.mu.Unlock()

	if c.pusher != nil {
		c.pusher.Discard()
	}

	// A reset is the one legitimate regression, so the publish gate is
	// lowered to the fresh snapshot instead of going through
	// publishOrdered.
	c.pubMu.Lock()
	c.pubXP = published.CumulativeXP
	c.pubSeen = true
	if c.notifier != nil {
		c.notifier.Publish(published)
	}
	c.pubMu.Unlock()

	if deleteErr != nil {
		return &LocalPersistenceError{Err: deleteErr}
	}

	if c.cfg.Authoritative && c.remote != nil {
		if err := c.remote.Reset(ctx, c.cfg.IdentityID); err != nil {
			return &RemoteUnavailableError{Op: "reset", Err: err}
		}
	}

	scope.Log.Infof("reset identity %s", c.cfg.IdentityID)
	return nil
}

// Close cancels background remote retries and unregisters the
// coordinator's absorber. It does not close the shared store, remote
// client, or notifier; those belong to the app lifecycle.
func (c *Coordinator) Close() {
	c.retryCancel()
	if c.removeAbsorber != nil {
		c.removeAbsorber()
	}
}

func (c *Coordinator) snapshotKey() string {
	return SnapshotKeyPrefix + c.cfg.IdentityID
}

// ensureLoadedLocked lazily loads local state. The remote authority is
// deliberately not consulted here: the commit path must never block on
// the network.
func (c *Coordinator) ensureLoadedLocked() {
	if c.loaded {
		return
	}
	c.current = c.loadLocalLocked()
	c.loaded = true
}

// loadLocalLocked reads the persisted snapshot, degrading malformed
// state to a fresh default rather than failing.
func (c *Coordinator) loadLocalLocked() Snapshot {
	key := c.snapshotKey()

	data, err := c.store.Get(key)
	if errors.Is(err, store.ErrNotFound) {
		logrus.Debugf("no persisted snapshot for %s, starting fresh", c.cfg.IdentityID)
		return c.normalize(NewSnapshot(c.cfg.IdentityID))
	}
	if err != nil {
		logrus.Errorf("failed to read persisted snapshot, starting fresh: %v", err)
		return c.normalize(NewSnapshot(c.cfg.IdentityID))
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		corrupt := &CorruptStateError{Key: key, Err: err}
		logrus.Errorf("recovering with default snapshot: %v", corrupt)
		metrics.CorruptStateRecoveries.Inc()
		return c.normalize(NewSnapshot(c.cfg.IdentityID))
	}
	snapshot.IdentityID = c.cfg.IdentityID

	// Persisted level and tier sets are re-derived from XP on load so a
	// tampered or corrupted pair can never survive.
	return c.normalize(snapshot)
}

// normalize re-derives every dependent field from cumulative XP.
func (c *Coordinator) normalize(snapshot Snapshot) Snapshot {
	return Merge(snapshot, NewSnapshot(c.cfg.IdentityID), c.resolver)
}

func (c *Coordinator) persistLocked(snapshot Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := c.store.Set(c.snapshotKey(), data); err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}
	return nil
}

// schedulePullRetryLocked retries a failed remote pull in the
// background with bounded exponential backoff, feeding any result back
// through Absorb. At most one retry loop runs at a time.
func (c *Coordinator) schedulePullRetryLocked() {
	if c.retrying {
		return
	}
	c.retrying = true
	retryCtx := c.retryCtx

	go func() {
		defer func() {
			c.mu.Lock()
			c.retrying = false
			c.mu.Unlock()
		}()

		policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), retryCtx)
		var remote *Snapshot
		err := backoff.Retry(func() error {
			pullCtx, cancel := context.WithTimeout(retryCtx, c.cfg.RemoteTimeout)
			defer cancel()
			var pullErr error
			remote, pullErr = c.remote.Pull(pullCtx, c.cfg.IdentityID)
			return pullErr
		}, policy)
		if err != nil {
			logrus.Warnf("background remote pull gave up: %v", err)
			return
		}
		if remote != nil {
			c.Absorb(*remote)
		}
	}()
}

// snapshotsEqual compares everything except the diagnostic timestamp.
func snapshotsEqual(a, b Snapshot) bool {
	if a.IdentityID != b.IdentityID || a.CumulativeXP != b.CumulativeXP || a.Level != b.Level {
		return false
	}
	if len(a.UnlockedItemIDs) != len(b.UnlockedItemIDs) || len(a.AvailableTierIDs) != len(b.AvailableTierIDs) {
		return false
	}
	for i := range a.UnlockedItemIDs {
		if a.UnlockedItemIDs[i] != b.UnlockedItemIDs[i] {
			return false
		}
	}
	for i := range a.AvailableTierIDs {
		if a.AvailableTierIDs[i] != b.AvailableTierIDs[i] {
			return false
		}
	}
	return true
}
