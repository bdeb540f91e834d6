package progression

import (
	"path/filepath"
	"testing"
	"time"
)

func TestNotifier_InProcessFanOut(t *testing.T) {
	n, err := NewNotifier("")
	if err != nil {
		t.Fatalf("failed to create notifier: %v", err)
	}
	defer n.Close()

	received := make(chan Snapshot, 1)
	unsubscribe := n.Subscribe(func(s Snapshot) {
		received <- s
	})

	n.Publish(Snapshot{IdentityID: "u1", CumulativeXP: 42})
	select {
	case got := <-received:
		if got.CumulativeXP != 42 {
			t.Errorf("received xp = %d, expected 42", got.CumulativeXP)
		}
	default:
		t.Fatal("subscriber not invoked")
	}

	unsubscribe()
	n.Publish(Snapshot{IdentityID: "u1", CumulativeXP: 43})
	select {
	case <-received:
		t.Error("unsubscribed callback still invoked")
	default:
	}
}

func TestNotifier_CrossProcessBroadcast(t *testing.T) {
	broadcastPath := filepath.Join(t.TempDir(), "broadcast.json")

	sender, err := NewNotifier(broadcastPath)
	if err != nil {
		t.Fatalf("failed to create sender: %v", err)
	}
	defer sender.Close()

	receiver, err := NewNotifier(broadcastPath)
	if err != nil {
		t.Fatalf("failed to create receiver: %v", err)
	}
	defer receiver.Close()

	absorbed := make(chan Snapshot, 1)
	receiver.AddAbsorber(func(s Snapshot) {
		absorbed <- s
	})

	sender.Publish(Snapshot{IdentityID: "u1", CumulativeXP: 77})

	select {
	case got := <-absorbed:
		if got.CumulativeXP != 77 {
			t.Errorf("absorbed xp = %d, expected 77", got.CumulativeXP)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast never reached the other notifier")
	}
}

func TestNotifier_IgnoresOwnBroadcast(t *testing.T) {
	broadcastPath := filepath.Join(t.TempDir(), "broadcast.json")

	n, err := NewNotifier(broadcastPath)
	if err != nil {
		t.Fatalf("failed to create notifier: %v", err)
	}
	defer n.Close()

	absorbed := make(chan Snapshot, 1)
	n.AddAbsorber(func(s Snapshot) {
		absorbed <- s
	})

	n.Publish(Snapshot{IdentityID: "u1", CumulativeXP: 10})

	select {
	case <-absorbed:
		t.Error("notifier absorbed its own broadcast")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestNotifier_PublishLocalSkipsBroadcast(t *testing.T) {
	broadcastPath := filepath.Join(t.TempDir(), "broadcast.json")

	local, err := NewNotifier(broadcastPath)
	if err != nil {
		t.Fatalf("failed to create notifier: %v", err)
	}
	defer local.Close()

	other, err := NewNotifier(broadcastPath)
	if err != nil {
		t.Fatalf("failed to create second notifier: %v", err)
	}
	defer other.Close()

	absorbed := make(chan Snapshot, 1)
	other.AddAbsorber(func(s Snapshot) {
		absorbed <- s
	})

	local.PublishLocal(Snapshot{IdentityID: "u1", CumulativeXP: 10})

	select {
	case <-absorbed:
		t.Error("PublishLocal leaked a cross-process broadcast")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestNotifier_FansOutToAllAbsorbers(t *testing.T) {
	broadcastPath := filepath.Join(t.TempDir(), "broadcast.json")

	sender, err := NewNotifier(broadcastPath)
	if err != nil {
		t.Fatalf("failed to create sender: %v", err)
	}
	defer sender.Close()

	receiver, err := NewNotifier(broadcastPath)
	if err != nil {
		t.Fatalf("failed to create receiver: %v", err)
	}
	defer receiver.Close()

	// Buffered: one publish can surface as several fsnotify events.
	first := make(chan Snapshot, 16)
	receiver.AddAbsorber(func(s Snapshot) {
		first <- s
	})
	second := make(chan Snapshot, 16)
	removeSecond := receiver.AddAbsorber(func(s Snapshot) {
		second <- s
	})

	waitForXP := func(name string, ch chan Snapshot, want int64) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case got := <-ch:
				if got.CumulativeXP == want {
					return
				}
			case <-deadline:
				t.Fatalf("%s absorber never saw xp=%d", name, want)
			}
		}
	}

	sender.Publish(Snapshot{IdentityID: "u1", CumulativeXP: 25})
	waitForXP("first", first, 25)
	waitForXP("second", second, 25)

	removeSecond()
	sender.Publish(Snapshot{IdentityID: "u1", CumulativeXP: 30})
	waitForXP("first", first, 30)

	for {
		select {
		case got := <-second:
			if got.CumulativeXP == 30 {
				t.Fatal("removed absorber still invoked")
			}
		case <-time.After(200 * time.Millisecond):
			return
		}
	}
}

func TestNotifier_SubscriberSeesCopy(t *testing.T) {
	n, err := NewNotifier("")
	if err != nil {
		t.Fatalf("failed to create notifier: %v", err)
	}
	defer n.Close()

	published := Snapshot{IdentityID: "u1", CumulativeXP: 5, UnlockedItemIDs: []string{"tree.oak"}}
	n.Subscribe(func(s Snapshot) {
		s.UnlockedItemIDs[0] = "mutated"
	})
	n.Publish(published)

	if published.UnlockedItemIDs[0] != "tree.oak" {
		t.Error("subscriber mutation leaked into the published snapshot")
	}
}

func TestNotifier_CloseIsIdempotent(t *testing.T) {
	n, err := NewNotifier(filepath.Join(t.TempDir(), "broadcast.json"))
	if err != nil {
		t.Fatalf("failed to create notifier: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Errorf("first close failed: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}
