package progression

import (
	"sort"

	"github.com/AccelByte/extend-progression-engine/pkg/content"
)

// ThresholdTable maps levels to cumulative XP requirements. It is built
// once from content configuration and is immutable afterwards, so it is
// safe to share across coordinators.
type ThresholdTable struct {
	levels []int64 // cumulative XP required, index == level
}

// NewThresholdTable builds a threshold table from the content config.
// The config is assumed to have passed content.Config.Validate, which
// guarantees a strictly increasing table starting at 0.
func NewThresholdTable(cfg *content.Config) *ThresholdTable {
	levels := append([]int64(nil), cfg.Levels...)
	return &ThresholdTable{levels: levels}
}

// MaxLevel returns the highest attainable level.
func (t *ThresholdTable) MaxLevel() int {
	return len(t.levels) - 1
}

// XPForLevel returns the cumulative XP required to reach level.
// Levels below 0 cost 0; levels above MaxLevel cost the max requirement.
func (t *ThresholdTable) XPForLevel(level int) int64 {
	if level <= 0 {
		return 0
	}
	if level > t.MaxLevel() {
		level = t.MaxLevel()
	}
	return t.levels[level]
}

// LevelForXP returns the greatest level whose requirement is <= xp,
// capped at MaxLevel.
func (t *ThresholdTable) LevelForXP(xp int64) int {
	if xp < 0 {
		return 0
	}
	// First index whose requirement exceeds xp; the level is one below.
	idx := sort.Search(len(t.levels), func(i int) bool {
		return t.levels[i] > xp
	})
	level := idx - 1
	if level > t.MaxLevel() {
		level = t.MaxLevel()
	}
	if level < 0 {
		level = 0
	}
	return level
}

// XPToNextLevel returns how much more XP is needed to reach the next
// level from xp. At MaxLevel it returns 0: further XP still accumulates
// but produces no more level transitions.
func (t *ThresholdTable) XPToNextLevel(xp int64) int64 {
	level := t.LevelForXP(xp)
	if level >= t.MaxLevel() {
		return 0
	}
	return t.levels[level+1] - xp
}
