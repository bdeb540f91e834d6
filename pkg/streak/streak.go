// Package streak implements the daily streak subsystem. Continuity is
// calendar-day arithmetic, not elapsed hours: two qualifying events on
// the same day are one day of streak, and a gap of more than one day
// breaks it unless a freeze token covers a single skipped day.
package streak

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AccelByte/extend-progression-engine/pkg/content"
	"github.com/AccelByte/extend-progression-engine/pkg/store"
	"github.com/sirupsen/logrus"
)

// KeyPrefix is the prefix for locally persisted streak state.
const KeyPrefix = "streak:state:"

const dateLayout = "2006-01-02"

// State is the streak state for one identity. CurrentStreakLength never
// exceeds LongestStreakLength.
type State struct {
	CurrentStreakLength int       `json:"currentStreakLength"`
	LongestStreakLength int       `json:"longestStreakLength"`
	LastQualifyingDate  string    `json:"lastQualifyingDate"` // calendar day, YYYY-MM-DD
	FreezeTokenCount    int       `json:"freezeTokenCount"`
	LastWriteTimestamp  time.Time `json:"lastWriteTimestamp"`
}

// Manager owns streak transitions for one identity.
type Manager struct {
	identityID string
	store      store.Store
	cfg        content.StreakConfig
}

// NewManager creates a streak manager.
func NewManager(identityID string, st store.Store, cfg content.StreakConfig) (*Manager, error) {
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
		logrus.Errorf("failed to read streak state, starting fresh: %v", err)
		return State{}
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		logrus.Errorf("corrupt streak state for %s, starting fresh: %v", m.identityID, err)
		return State{}
	}
	// Merging with the zero state re-asserts the longest-streak floor on
	// whatever was persisted.
	return Merge(state, State{})
}

// RecordQualifyingEvent advances the streak for a qualifying event on
// the given date. It is idempotent per calendar day: a second event the
// same day is a no-op, not a double increment. A gap of exactly one
// skipped day consumes a freeze token when available; any larger gap,
// or a gap without tokens, restarts the streak at 1.
func (m *Manager) RecordQualifyingEvent(date time.Time) (State, error) {
	state := m.Load()
	day := date.Format(dateLayout)

	if state.LastQualifyingDate == day {
		logrus.Debugf("streak already counted for %s", day)
		return state, nil
	}

	gap, ok := dayGap(state.LastQualifyingDate, day)
	if ok && gap < 0 {
		// Event for an earlier day than the last one counted, e.g. a
		// replayed event after a cross-device merge. Never rewind.
		logrus.Debugf("ignoring out-of-order qualifying event for %s", day)
		return state, nil
	}

	switch {
	case !ok:
		// No usable previous day: either fresh state or a persisted date
		// that no longer parses. Restart at 1 rather than wedging the
		// streak on the bad record.
		if state.LastQualifyingDate != "" {
			logrus.Warnf("unparseable last qualifying date %q for %s, restarting streak",
				state.LastQualifyingDate, m.identityID)
		}
		state.CurrentStreakLength = 1
	case gap == 1:
		state.CurrentStreakLength++
	case gap == 2 && state.FreezeTokenCount > 0:
		state.FreezeTokenCount--
		state.CurrentStreakLength++
		logrus.Infof("streak freeze token consumed for %s (remaining: %d)", m.identityID, state.FreezeTokenCount)
	default:
		logrus.Debugf("streak broken for %s: %d day gap", m.identityID, gap)
		state.CurrentStreakLength = 1
	}

	state.LastQualifyingDate = day
	if state.CurrentStreakLength > state.LongestStreakLength {
		state.LongestStreakLength = state.CurrentStreakLength
	}
	state.LastWriteTimestamp = time.Now().UTC()

	if err := m.persist(state); err != nil {
		return state, err
	}
	return state, nil
}

// AddFreezeTokens grants freeze tokens up to the configured cap.
func (m *Manager) AddFreezeTokens(count int) (State, error) {
	if count < 0 {
		return State{}, fmt.Errorf("freeze token count must be non-negative, got %d", count)
	}

	state := m.Load()
	state.FreezeTokenCount += count
	if cap := m.cfg.FreezeTokenCap; cap > 0 && state.FreezeTokenCount > cap {
		state.FreezeTokenCount = cap
	}
	state.LastWriteTimestamp = time.Now().UTC()

	if err := m.persist(state); err != nil {
		return state, err
	}
	return state, nil
}

// Reset clears the streak state for this identity.
func (m *Manager) Reset() error {
	if err := m.store.Delete(m.key()); err != nil {
		return fmt.Errorf("failed to reset streak state: %w", err)
	}
	return nil
}

// Merge reconciles two streak states: the longest streak takes the
// maximum, the current streak follows whichever side saw the later
// qualifying day (a legitimately broken streak must not resurrect), and
// freeze tokens take the maximum.
func Merge(a, b State) State {
	out := a
	if b.LastQualifyingDate > a.LastQualifyingDate {
		out.CurrentStreakLength = b.CurrentStreakLength
		out.LastQualifyingDate = b.LastQualifyingDate
	} else if b.LastQualifyingDate == a.LastQualifyingDate && b.CurrentStreakLength > out.CurrentStreakLength {
		out.CurrentStreakLength = b.CurrentStreakLength
	}
	if b.LongestStreakLength > out.LongestStreakLength {
		out.LongestStreakLength = b.LongestStreakLength
	}
	if b.FreezeTokenCount > out.FreezeTokenCount {
		out.FreezeTokenCount = b.FreezeTokenCount
	}
	if b.LastWriteTimestamp.After(out.LastWriteTimestamp) {
		out.LastWriteTimestamp = b.LastWriteTimestamp
	}
	if out.LongestStreakLength < out.CurrentStreakLength {
		out.LongestStreakLength = out.CurrentStreakLength
	}
	return out
}

func (m *Manager) key() string {
	return KeyPrefix + m.identityID
}

func (m *Manager) persist(state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal streak state: %w", err)
	}
	if err := m.store.Set(m.key(), data); err != nil {
		return fmt.Errorf("failed to persist streak state: %w", err)
	}
	return nil
}

// dayGap returns the whole calendar days between two formatted dates.
// The second return is false when either side is empty or does not
// parse, which callers must treat as "no usable previous day" rather
// than as an ordering signal.
func dayGap(from, to string) (int, bool) {
	if from == "" || to == "" {
		return 0, false
	}
	a, errA := time.Parse(dateLayout, from)
	b, errB := time.Parse(dateLayout, to)
	if errA != nil || errB != nil {
		return 0, false
	}
	return int(b.Sub(a).Hours() / 24), true
}
