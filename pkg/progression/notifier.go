package progression

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// broadcastEnvelope is the on-disk format of a cross-process broadcast.
// Origin lets a watcher discard its own writes.
type broadcastEnvelope struct {
	Origin   string   `json:"origin"`
	Snapshot Snapshot `json:"snapshot"`
}

// Notifier fans committed snapshots out to every other replica: other
// subscribers in the same process via registered callbacks, and other
// processes sharing the same data directory via a broadcast file
// watched with fsnotify. The notifier has no merge logic of its own; it
// only relays snapshots that already went through the coordinator's
// commit path, so subscribers observe a non-decreasing XP sequence.
type Notifier struct {
	origin        string
	broadcastPath string

	mu        sync.Mutex
	nextID    int
	subs      map[int]func(Snapshot)
	absorbers map[int]func(Snapshot)

	watcher *fsnotify.Watcher
	done    chan struct{}
	closed  bool
}

// NewNotifier creates a notifier. broadcastPath may be empty to disable
// the cross-process channel (in-process fan-out only).
func NewNotifier(broadcastPath string) (*Notifier, error) {
	n := &Notifier{
		origin:        uuid.NewString(),
		broadcastPath: broadcastPath,
		subs:          make(map[int]func(Snapshot)),
		absorbers:     make(map[int]func(Snapshot)),
		done:          make(chan struct{}),
	}

	if broadcastPath == "" {
		return n, nil
	}

	dir := filepath.Dir(broadcastPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create broadcast directory %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcast watcher: %w", err)
	}
	// Watch the directory, not the file: the file is replaced by rename
	// on every publish and a file watch would be lost with it.
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch broadcast directory %s: %w", dir, err)
	}

	n.watcher = watcher
	go n.watchLoop()

	logrus.Debugf("notifier %s watching broadcasts at %s", n.origin, broadcastPath)
	return n, nil
}

// Origin returns this notifier's replica id.
func (n *Notifier) Origin() string {
	return n.origin
}

// Subscribe registers a callback invoked with every committed snapshot.
// The returned function unsubscribes.
func (n *Notifier) Subscribe(fn func(Snapshot)) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// AddAbsorber registers a handler for snapshots broadcast by other
// processes. Every coordinator sharing the notifier registers its own;
// a broadcast fans out to all of them and each absorber filters by
// identity. The returned function unregisters.
func (n *Notifier) AddAbsorber(fn func(Snapshot)) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.absorbers[id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.absorbers, id)
		n.mu.Unlock()
	}
}

// Publish relays a committed snapshot to in-process subscribers and
// writes it to the broadcast file for other processes.
func (n *Notifier) Publish(snapshot Snapshot) {
	n.fanOut(snapshot)

	if n.broadcastPath == "" {
		return
	}
	if err := n.writeBroadcast(snapshot); err != nil {
		// Broadcast loss only delays convergence: the next commit or a
		// remote pull carries the state forward.
		logrus.Warnf("failed to write broadcast: %v", err)
	}
}

// PublishLocal relays a snapshot to in-process subscribers only. Used
// when absorbing a foreign broadcast, so it is not echoed back out.
func (n *Notifier) PublishLocal(snapshot Snapshot) {
	n.fanOut(snapshot)
}

// Close stops the watcher and drops all subscribers.
func (n *Notifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.subs = make(map[int]func(Snapshot))
	n.absorbers = make(map[int]func(Snapshot))
	n.mu.Unlock()

	close(n.done)
	if n.watcher != nil {
		return n.watcher.Close()
	}
	return nil
}

func (n *Notifier) fanOut(snapshot Snapshot) {
	n.mu.Lock()
	callbacks := make([]func(Snapshot), 0, len(n.subs))
	for _, fn := range n.subs {
		callbacks = append(callbacks, fn)
	}
	n.mu.Unlock()

	for _, fn := range callbacks {
		fn(snapshot.Clone())
	}
}

func (n *Notifier) writeBroadcast(snapshot Snapshot) error {
	data, err := json.Marshal(broadcastEnvelope{Origin: n.origin, Snapshot: snapshot})
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast: %w", err)
	}

	// Write-then-rename keeps readers from ever seeing a partial file.
	tmp := n.broadcastPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write broadcast file: %w", err)
	}
	if err := os.Rename(tmp, n.broadcastPath); err != nil {
		return fmt.Errorf("failed to publish broadcast file: %w", err)
	}
	return nil
}

func (n *Notifier) watchLoop() {
	for {
		select {
		case <-n.done:
			return
		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if event.Name != n.broadcastPath {
				continue
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			n.handleBroadcast()
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			logrus.Warnf("broadcast watcher error: %v", err)
		}
	}
}

func (n *Notifier) handleBroadcast() {
	data, err := os.ReadFile(n.broadcastPath)
	if err != nil {
		logrus.Debugf("broadcast file not readable: %v", err)
		return
	}

	var envelope broadcastEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		logrus.Warnf("discarding malformed broadcast: %v", err)
		return
	}
	if envelope.Origin == n.origin {
		return
	}

	n.mu.Lock()
	absorbers := make([]func(Snapshot), 0, len(n.absorbers))
	for _, fn := range n.absorbers {
		absorbers = append(absorbers, fn)
	}
	n.mu.Unlock()
	if len(absorbers) == 0 {
		return
	}

	logrus.Debugf("absorbing broadcast from replica %s", envelope.Origin)
	for _, fn := range absorbers {
		fn(envelope.Snapshot.Clone())
	}
}
