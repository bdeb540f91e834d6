package streak

import (
	"testing"
	"time"

	"github.com/AccelByte/extend-progression-engine/pkg/content"
	"github.com/AccelByte/extend-progression-engine/pkg/store"
)

func newTestManager(t *testing.T, cfg content.StreakConfig) *Manager {
	t.Helper()
	m, err := NewManager("user-1", store.NewMemoryStore(), cfg)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return m
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRecordQualifyingEvent(t *testing.T) {
	tests := []struct {
		name            string
		tokens          int
		days            []string
		expectedCurrent int
		expectedLongest int
		expectedTokens  int
	}{
		{
			name:            "first event starts at one",
			days:            []string{"2026-08-01"},
			expectedCurrent: 1,
			expectedLongest: 1,
		},
		{
			name:            "consecutive days increment",
			days:            []string{"2026-08-01", "2026-08-02", "2026-08-03"},
			expectedCurrent: 3,
			expectedLongest: 3,
		},
		{
			name:            "same day is idempotent",
			days:            []string{"2026-08-01", "2026-08-01", "2026-08-02"},
			expectedCurrent: 2,
			expectedLongest: 2,
		},
		{
			name:            "two day gap without tokens breaks",
			days:            []string{"2026-08-01", "2026-08-02", "2026-08-04"},
			expectedCurrent: 1,
			expectedLongest: 2,
		},
		{
			name:            "freeze token bridges one skipped day",
			tokens:          1,
			days:            []string{"2026-08-01", "2026-08-02", "2026-08-04"},
			expectedCurrent: 3,
			expectedLongest: 3,
			expectedTokens:  0,
		},
		{
			name:            "token does not cover two skipped days",
			tokens:          1,
			days:            []string{"2026-08-01", "2026-08-04"},
			expectedCurrent: 1,
			expectedLongest: 1,
			expectedTokens:  1,
		},
		{
			name:            "out of order event is ignored",
			days:            []string{"2026-08-02", "2026-08-01"},
			expectedCurrent: 1,
			expectedLongest: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, content.StreakConfig{FreezeTokenCap: 3})
			if tt.tokens > 0 {
				if _, err := m.AddFreezeTokens(tt.tokens); err != nil {
					t.Fatalf("failed to add tokens: %v", err)
				}
			}

			var state State
			for _, d := range tt.days {
				var err error
				state, err = m.RecordQualifyingEvent(day(d))
				if err != nil {
					t.Fatalf("record on %s failed: %v", d, err)
				}
			}

			if state.CurrentStreakLength != tt.expectedCurrent {
				t.Errorf("current = %d, expected %d", state.CurrentStreakLength, tt.expectedCurrent)
			}
			if state.LongestStreakLength != tt.expectedLongest {
				t.Errorf("longest = %d, expected %d", state.LongestStreakLength, tt.expectedLongest)
			}
			if state.FreezeTokenCount != tt.expectedTokens {
				t.Errorf("tokens = %d, expected %d", state.FreezeTokenCount, tt.expectedTokens)
			}
		})
	}
}

func TestLongestNeverDecreases(t *testing.T) {
	m := newTestManager(t, content.StreakConfig{})

	for _, d := range []string{"2026-08-01", "2026-08-02", "2026-08-03", "2026-08-04"} {
		if _, err := m.RecordQualifyingEvent(day(d)); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}
	// Break the streak.
	state, err := m.RecordQualifyingEvent(day("2026-08-10"))
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if state.CurrentStreakLength != 1 {
		t.Errorf("current = %d, expected 1 after break", state.CurrentStreakLength)
	}
	if state.LongestStreakLength != 4 {
		t.Errorf("longest = %d, expected 4 to survive the break", state.LongestStreakLength)
	}
}

func TestAddFreezeTokens(t *testing.T) {
	m := newTestManager(t, content.StreakConfig{FreezeTokenCap: 3})

	state, err := m.AddFreezeTokens(2)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if state.FreezeTokenCount != 2 {
		t.Errorf("tokens = %d, expected 2", state.FreezeTokenCount)
	}

	state, err = m.AddFreezeTokens(5)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if state.FreezeTokenCount != 3 {
		t.Errorf("tokens = %d, expected the cap 3", state.FreezeTokenCount)
	}

	if _, err := m.AddFreezeTokens(-1); err == nil {
		t.Error("negative token count accepted")
	}
}

func TestMergeStates(t *testing.T) {
	tests := []struct {
		name            string
		a, b            State
		expectedCurrent int
		expectedLongest int
		expectedDate    string
	}{
		{
			name:            "later qualifying day wins current",
			a:               State{CurrentStreakLength: 5, LongestStreakLength: 5, LastQualifyingDate: "2026-08-01"},
			b:               State{CurrentStreakLength: 1, LongestStreakLength: 5, LastQualifyingDate: "2026-08-09"},
			expectedCurrent: 1,
			expectedLongest: 5,
			expectedDate:    "2026-08-09",
		},
		{
			name:            "same day takes larger current",
			a:               State{CurrentStreakLength: 2, LongestStreakLength: 2, LastQualifyingDate: "2026-08-01"},
			b:               State{CurrentStreakLength: 3, LongestStreakLength: 3, LastQualifyingDate: "2026-08-01"},
			expectedCurrent: 3,
			expectedLongest: 3,
			expectedDate:    "2026-08-01",
		},
		{
			name:            "longest takes the maximum regardless",
			a:               State{CurrentStreakLength: 1, LongestStreakLength: 9, LastQualifyingDate: "2026-08-09"},
			b:               State{CurrentStreakLength: 4, LongestStreakLength: 4, LastQualifyingDate: "2026-08-02"},
			expectedCurrent: 1,
			expectedLongest: 9,
			expectedDate:    "2026-08-09",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged := Merge(tt.a, tt.b)
			reversed := Merge(tt.b, tt.a)

			if merged.CurrentStreakLength != tt.expectedCurrent {
				t.Errorf("current = %d, expected %d", merged.CurrentStreakLength, tt.expectedCurrent)
			}
			if merged.LongestStreakLength != tt.expectedLongest {
				t.Errorf("longest = %d, expected %d", merged.LongestStreakLength, tt.expectedLongest)
			}
			if merged.LastQualifyingDate != tt.expectedDate {
				t.Errorf("date = %s, expected %s", merged.LastQualifyingDate, tt.expectedDate)
			}
			if reversed.CurrentStreakLength != merged.CurrentStreakLength ||
				reversed.LongestStreakLength != merged.LongestStreakLength {
				t.Errorf("merge is not commutative: %+v vs %+v", merged, reversed)
			}
		})
	}
}

func TestLoadRecoversCorruptState(t *testing.T) {
	st := store.NewMemoryStore()
	if err := st.Set(KeyPrefix+"user-1", []byte("][")); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	m, err := NewManager("user-1", st, content.StreakConfig{})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	state := m.Load()
	if state.CurrentStreakLength != 0 {
		t.Errorf("corrupt state not recovered: %+v", state)
	}
	if _, err := m.RecordQualifyingEvent(day("2026-08-01")); err != nil {
		t.Errorf("record after recovery failed: %v", err)
	}
}

func TestRecoversFromUnparseableDate(t *testing.T) {
	st := store.NewMemoryStore()
	record := []byte(`{"currentStreakLength":5,"longestStreakLength":5,"lastQualifyingDate":"not-a-date","freezeTokenCount":1}`)
	if err := st.Set(KeyPrefix+"user-1", record); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	m, err := NewManager("user-1", st, content.StreakConfig{})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	// The bad date must not read as out-of-order: the streak restarts
	// instead of ignoring every future event.
	state, err := m.RecordQualifyingEvent(day("2026-08-01"))
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if state.CurrentStreakLength != 1 {
		t.Errorf("current = %d after unparseable date, expected restart at 1", state.CurrentStreakLength)
	}
	if state.LongestStreakLength != 5 {
		t.Errorf("longest = %d, expected 5 preserved", state.LongestStreakLength)
	}

	state, err = m.RecordQualifyingEvent(day("2026-08-02"))
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if state.CurrentStreakLength != 2 {
		t.Errorf("current = %d on the next day, expected 2", state.CurrentStreakLength)
	}
}

func TestLoadRestoresLongestFloor(t *testing.T) {
	st := store.NewMemoryStore()
	record := []byte(`{"currentStreakLength":4,"longestStreakLength":2,"lastQualifyingDate":"2026-08-01"}`)
	if err := st.Set(KeyPrefix+"user-1", record); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	m, err := NewManager("user-1", st, content.StreakConfig{})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	if state := m.Load(); state.LongestStreakLength != 4 {
		t.Errorf("longest = %d, expected the floor at current (4)", state.LongestStreakLength)
	}
}

func TestReset(t *testing.T) {
	m := newTestManager(t, content.StreakConfig{})

	if _, err := m.RecordQualifyingEvent(day("2026-08-01")); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := m.Reset(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if state := m.Load(); state.CurrentStreakLength != 0 || state.LastQualifyingDate != "" {
		t.Errorf("state survived reset: %+v", state)
	}
}
