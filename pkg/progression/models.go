package progression

import (
	"time"

	"github.com/AccelByte/extend-progression-engine/pkg/content"
)

// Snapshot represents the complete, self-consistent progression state
// for one identity at one observation point. CumulativeXP is the only
// authoritative numeric field; Level and AvailableTierIDs are derived
// from it and re-derived on every load and merge.
type Snapshot struct {
	IdentityID         string    `json:"identityId"`
	CumulativeXP       int64     `json:"cumulativeXp"`
	Level              int       `json:"level"`
	UnlockedItemIDs    []string  `json:"unlockedItemIds"`
	AvailableTierIDs   []string  `json:"availableTierIds"`
	LastWriteTimestamp time.Time `json:"lastWriteTimestamp"` // diagnostics only, never used for conflict resolution
}

// NewSnapshot returns the zero-value snapshot for a fresh identity.
func NewSnapshot(identityID string) Snapshot {
	return Snapshot{
		IdentityID:       identityID,
		UnlockedItemIDs:  []string{},
		AvailableTierIDs: []string{},
	}
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.UnlockedItemIDs = append([]string(nil), s.UnlockedItemIDs...)
	out.AvailableTierIDs = append([]string(nil), s.AvailableTierIDs...)
	return out
}

// Delta describes what a single commit changed.
type Delta struct {
	XPGained             int64    `json:"xpGained"`
	LeveledUp            bool     `json:"leveledUp"`
	CrossedLevels        []int    `json:"crossedLevels"`
	NewlyUnlockedItemIDs []string `json:"newlyUnlockedItemIds"`
	NewlyUnlockedTierIDs []string `json:"newlyUnlockedTierIds"`
}

// Result is returned by every XP-affecting operation.
type Result struct {
	Snapshot Snapshot `json:"snapshot"`
	Delta    Delta    `json:"delta"`
	// Bonus is set when the award went through the bonus roller
	// (session awards); nil for fixed awards. Ephemeral, never persisted.
	Bonus *BonusRoll `json:"bonus,omitempty"`
}

// RewardDescriptor lists the content granted when one level is reached.
type RewardDescriptor struct {
	Level   int      `json:"level"`
	ItemIDs []string `json:"itemIds,omitempty"`
	TierIDs []string `json:"tierIds,omitempty"`
}

// BonusClass labels the outcome of a bonus roll.
type BonusClass string

const (
	BonusNone       BonusClass = "none"
	BonusLucky      BonusClass = "lucky"
	BonusSuperLucky BonusClass = "superLucky"
	BonusJackpot    BonusClass = "jackpot"
)

// BonusRoll is the outcome of a single weighted random draw. It is
// ephemeral: rolled once per award, never persisted, never re-rolled.
type BonusRoll struct {
	Multiplier content.Rational `json:"multiplier"`
	Class      BonusClass       `json:"class"`
}
