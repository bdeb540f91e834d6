// Package combo implements the combo subsystem. Unlike the calendar-day
// streak, combo continuity is an inactivity window measured in hours:
// the counter resets once more than the configured window elapses since
// the last qualifying event.
package combo

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AccelByte/extend-progression-engine/pkg/content"
	"github.com/AccelByte/extend-progression-engine/pkg/store"
	"github.com/sirupsen/logrus"
)

// KeyPrefix is the prefix for locally persisted combo state.
const KeyPrefix = "combo:state:"

// State is the combo state for one identity. CurrentCombo never
// exceeds HighestCombo.
type State struct {
	CurrentCombo          int       `json:"currentCombo"`
	HighestCombo          int       `json:"highestCombo"`
	LastQualifyingEventAt time.Time `json:"lastQualifyingEventAt"`
	LastWriteTimestamp    time.Time `json:"lastWriteTimestamp"`
}

// Manager owns combo transitions for one identity.
type Manager struct {
	identityID string
	store      store.Store
	cfg        content.ComboConfig
}

// NewManager creates a combo manager.
func NewManager(identityID string, st store.Store, cfg content.ComboConfig) (*Manager, error) {
	if identityID == "" {
		return nil, fmt.Errorf("identity ID is required")
	}
	return &Manager{identityID: identityID, store: st, cfg: cfg}, nil
}

// Load returns the persisted state, recovering corrupt state with
// defaults.
func (m *Manager) Load() State {
	data, err := m.store.Get(m.key())
	if errors.Is(err, store.ErrNotFound) {
		return State{}
	}
	if err != nil {
		logrus.Errorf("failed to read combo state, starting fresh: %v", err)
		return State{}
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		logrus.Errorf("corrupt combo state for %s, starting fresh: %v", m.identityID, err)
		return State{}
	}
	// Merging with the zero state re-asserts the highest-combo floor on
	// whatever was persisted.
	return Merge(state, State{})
}

// RecordQualifyingEvent advances the combo for a qualifying event at
// the given time. When more than the inactivity window has elapsed
// since the last event, the counter restarts at 1; an event exactly at
// the window edge still counts as continuous. The counter never
// exceeds the configured cap.
func (m *Manager) RecordQualifyingEvent(at time.Time) (State, error) {
	state := m.Load()

	if !state.LastQualifyingEventAt.IsZero() && at.Before(state.LastQualifyingEventAt) {
		// Replayed or cross-device event from the past; never rewind.
		logrus.Debugf("ignoring out-of-order combo event at %v", at)
		return state, nil
	}

	window := time.Duration(m.cfg.WindowHours) * time.Hour
	switch {
	case state.LastQualifyingEventAt.IsZero():
		state.CurrentCombo = 1
	case window > 0 && at.Sub(state.LastQualifyingEventAt) > window:
		logrus.Debugf("combo expired for %s after %v of inactivity", m.identityID, at.Sub(state.LastQualifyingEventAt))
		state.CurrentCombo = 1
	default:
		state.CurrentCombo++
	}

	if m.cfg.MaxCombo > 0 && state.CurrentCombo > m.cfg.MaxCombo {
		state.CurrentCombo = m.cfg.MaxCombo
	}
	if state.CurrentCombo > state.HighestCombo {
		state.HighestCombo = state.CurrentCombo
	}
	state.LastQualifyingEventAt = at
	state.LastWriteTimestamp = time.Now().UTC()

	if err := m.persist(state); err != nil {
		return state, err
	}
	return state, nil
}

// MultiplierFor returns the XP multiplier for a combo count from the
// configured step table: the last step whose MinCombo is <= combo.
// Defaults to x1 below the first step or with an empty table.
func (m *Manager) MultiplierFor(combo int) content.Rational {
	multiplier := content.Rational{Num: 1, Den: 1}
	for _, step := range m.cfg.Steps {
		if combo < step.MinCombo {
			break
		}
		multiplier = step.Multiplier
	}
	return multiplier
}

// Reset clears the combo state for this identity.
func (m *Manager) Reset() error {
	if err := m.store.Delete(m.key()); err != nil {
		return fmt.Errorf("failed to reset combo state: %w", err)
	}
	return nil
}

// Merge reconciles two combo states: the highest combo takes the
// maximum and the current combo follows whichever side saw the later
// qualifying event, since an expired combo must not resurrect.
func Merge(a, b State) State {
	out := a
	if b.LastQualifyingEventAt.After(a.LastQualifyingEventAt) {
		out.CurrentCombo = b.CurrentCombo
		out.LastQualifyingEventAt = b.LastQualifyingEventAt
	} else if b.LastQualifyingEventAt.Equal(a.LastQualifyingEventAt) && b.CurrentCombo > out.CurrentCombo {
		out.CurrentCombo = b.CurrentCombo
	}
	if b.HighestCombo > out.HighestCombo {
		out.HighestCombo = b.HighestCombo
	}
	if b.LastWriteTimestamp.After(out.LastWriteTimestamp) {
		out.LastWriteTimestamp = b.LastWriteTimestamp
	}
	if out.HighestCombo < out.CurrentCombo {
		out.HighestCombo = out.CurrentCombo
	}
	return out
}

func (m *Manager) key() string {
	return KeyPrefix + m.identityID
}

func (m *Manager) persist(state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal combo state: %w", err)
	}
	if err := m.store.Set(m.key(), data); err != nil {
		return fmt.Errorf("failed to persist combo state: %w", err)
	}
	return nil
}
