package combo

import (
	"testing"
	"time"

	"github.com/AccelByte/extend-progression-engine/pkg/content"
	"github.com/AccelByte/extend-progression-engine/pkg/store"
)

func newTestManager(t *testing.T, cfg content.ComboConfig) *Manager {
	t.Helper()
	m, err := NewManager("user-1", store.NewMemoryStore(), cfg)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return m
}

var comboEpoch = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func TestRecordQualifyingEvent(t *testing.T) {
	tests := []struct {
		name            string
		offsets         []time.Duration
		expectedCurrent int
		expectedHighest int
	}{
		{
			name:            "first event starts at one",
			offsets:         []time.Duration{0},
			expectedCurrent: 1,
			expectedHighest: 1,
		},
		{
			name:            "events inside the window chain",
			offsets:         []time.Duration{0, time.Hour, 2 * time.Hour},
			expectedCurrent: 3,
			expectedHighest: 3,
		},
		{
			name:            "exactly at the window edge is continuous",
			offsets:         []time.Duration{0, 8 * time.Hour},
			expectedCurrent: 2,
			expectedHighest: 2,
		},
		{
			name:            "one second past the window resets",
			offsets:         []time.Duration{0, 8*time.Hour + time.Second},
			expectedCurrent: 1,
			expectedHighest: 1,
		},
		{
			name:            "past the window resets",
			offsets:         []time.Duration{0, time.Hour, 10 * time.Hour},
			expectedCurrent: 1,
			expectedHighest: 2,
		},
		{
			name:            "out of order event is ignored",
			offsets:         []time.Duration{time.Hour, 0},
			expectedCurrent: 1,
			expectedHighest: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, content.ComboConfig{WindowHours: 8, MaxCombo: 30})

			var state State
			for _, offset := range tt.offsets {
				var err error
				state, err = m.RecordQualifyingEvent(comboEpoch.Add(offset))
				if err != nil {
					t.Fatalf("record at +%v failed: %v", offset, err)
				}
			}

			if state.CurrentCombo != tt.expectedCurrent {
				t.Errorf("current = %d, expected %d", state.CurrentCombo, tt.expectedCurrent)
			}
			if state.HighestCombo != tt.expectedHighest {
				t.Errorf("highest = %d, expected %d", state.HighestCombo, tt.expectedHighest)
			}
		})
	}
}

func TestComboCap(t *testing.T) {
	m := newTestManager(t, content.ComboConfig{WindowHours: 8, MaxCombo: 3})

	var state State
	for i := 0; i < 6; i++ {
		var err error
		state, err = m.RecordQualifyingEvent(comboEpoch.Add(time.Duration(i) * time.Hour))
		if err != nil {
			t.Fatalf("record %d failed: %v", i, err)
		}
	}
	if state.CurrentCombo != 3 {
		t.Errorf("current = %d, expected the cap 3", state.CurrentCombo)
	}
	if state.HighestCombo != 3 {
		t.Errorf("highest = %d, expected 3", state.HighestCombo)
	}
}

func TestMultiplierFor(t *testing.T) {
	m := newTestManager(t, content.ComboConfig{
		WindowHours: 8,
		Steps: []content.ComboStep{
			{MinCombo: 3, Multiplier: content.Rational{Num: 5, Den: 4}},
			{MinCombo: 5, Multiplier: content.Rational{Num: 3, Den: 2}},
			{MinCombo: 10, Multiplier: content.Rational{Num: 2, Den: 1}},
		},
	})

	tests := []struct {
		name     string
		combo    int
		expected content.Rational
	}{
		{"below first step", 2, content.Rational{Num: 1, Den: 1}},
		{"exactly first step", 3, content.Rational{Num: 5, Den: 4}},
		{"between steps", 7, content.Rational{Num: 3, Den: 2}},
		{"top step", 15, content.Rational{Num: 2, Den: 1}},
		{"zero combo", 0, content.Rational{Num: 1, Den: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.MultiplierFor(tt.combo); got != tt.expected {
				t.Errorf("MultiplierFor(%d) = %d/%d, expected %d/%d",
					tt.combo, got.Num, got.Den, tt.expected.Num, tt.expected.Den)
			}
		})
	}
}

func TestMultiplierForEmptyTable(t *testing.T) {
	m := newTestManager(t, content.ComboConfig{WindowHours: 8})
	if got := m.MultiplierFor(100); got != (content.Rational{Num: 1, Den: 1}) {
		t.Errorf("MultiplierFor with empty table = %d/%d, expected 1/1", got.Num, got.Den)
	}
}

func TestMergeStates(t *testing.T) {
	earlier := comboEpoch
	later := comboEpoch.Add(3 * time.Hour)

	tests := []struct {
		name            string
		a, b            State
		expectedCurrent int
		expectedHighest int
	}{
		{
			name:            "later event wins current",
			a:               State{CurrentCombo: 7, HighestCombo: 7, LastQualifyingEventAt: earlier},
			b:               State{CurrentCombo: 1, HighestCombo: 7, LastQualifyingEventAt: later},
			expectedCurrent: 1,
			expectedHighest: 7,
		},
		{
			name:            "same instant takes larger current",
			a:               State{CurrentCombo: 2, HighestCombo: 2, LastQualifyingEventAt: earlier},
			b:               State{CurrentCombo: 4, HighestCombo: 4, LastQualifyingEventAt: earlier},
			expectedCurrent: 4,
			expectedHighest: 4,
		},
		{
			name:            "highest takes the maximum",
			a:               State{CurrentCombo: 1, HighestCombo: 12, LastQualifyingEventAt: later},
			b:               State{CurrentCombo: 5, HighestCombo: 5, LastQualifyingEventAt: earlier},
			expectedCurrent: 1,
			expectedHighest: 12,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged := Merge(tt.a, tt.b)
			reversed := Merge(tt.b, tt.a)

			if merged.CurrentCombo != tt.expectedCurrent {
				t.Errorf("current = %d, expected %d", merged.CurrentCombo, tt.expectedCurrent)
			}
			if merged.HighestCombo != tt.expectedHighest {
				t.Errorf("highest = %d, expected %d", merged.HighestCombo, tt.expectedHighest)
			}
			if reversed.CurrentCombo != merged.CurrentCombo || reversed.HighestCombo != merged.HighestCombo {
				t.Errorf("merge is not commutative: %+v vs %+v", merged, reversed)
			}
		})
	}
}

func TestLoadRecoversCorruptState(t *testing.T) {
	st := store.NewMemoryStore()
	if err := st.Set(KeyPrefix+"user-1", []byte("%%%")); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	m, err := NewManager("user-1", st, content.ComboConfig{WindowHours: 8})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	if state := m.Load(); state.CurrentCombo != 0 {
		t.Errorf("corrupt state not recovered: %+v", state)
	}
}

func TestLoadRestoresHighestFloor(t *testing.T) {
	st := store.NewMemoryStore()
	record := []byte(`{"currentCombo":4,"highestCombo":1,"lastQualifyingEventAt":"2026-08-01T12:00:00Z"}`)
	if err := st.Set(KeyPrefix+"user-1", record); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	m, err := NewManager("user-1", st, content.ComboConfig{WindowHours: 8})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	if state := m.Load(); state.HighestCombo != 4 {
		t.Errorf("highest = %d, expected the floor at current (4)", state.HighestCombo)
	}
}

func TestReset(t *testing.T) {
	m := newTestManager(t, content.ComboConfig{WindowHours: 8})

	if _, err := m.RecordQualifyingEvent(comboEpoch); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := m.Reset(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if state := m.Load(); state.CurrentCombo != 0 || !state.LastQualifyingEventAt.IsZero() {
		t.Errorf("state survived reset: %+v", state)
	}
}
