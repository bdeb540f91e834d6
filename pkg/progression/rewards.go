package progression

import (
	"sort"

	"github.com/AccelByte/extend-progression-engine/pkg/content"
)

// RewardResolver resolves level transitions into reward grants and
// derives the cumulative unlock sets for a level. All lookups are
// memoized at construction; results are deterministic and stably
// ordered so that replays are idempotent.
type RewardResolver struct {
	table *ThresholdTable

	rewardsAt []RewardDescriptor // index == level, zero-value when nothing is granted
	itemsAt   [][]string         // cumulative sorted item ids derivable at each level
	tiersAt   [][]string         // cumulative sorted tier ids available at each level
}

// NewRewardResolver builds a resolver from the content config and the
// threshold table derived from the same config.
func NewRewardResolver(cfg *content.Config, table *ThresholdTable) *RewardResolver {
	max := table.MaxLevel()

	rewardsAt := make([]RewardDescriptor, max+1)
	for level := range rewardsAt {
		rewardsAt[level].Level = level
	}
	for _, reward := range cfg.Rewards {
		if reward.Level < 0 || reward.Level > max {
			continue
		}
		rewardsAt[reward.Level].ItemIDs = sortedCopy(reward.Items)
		rewardsAt[reward.Level].TierIDs = sortedCopy(reward.Tiers)
	}

	itemsAt := make([][]string, max+1)
	tiersAt := make([][]string, max+1)
	var items, tiers []string
	for level := 0; level <= max; level++ {
		items = unionSorted(items, rewardsAt[level].ItemIDs)
		tiers = unionSorted(tiers, rewardsAt[level].TierIDs)
		itemsAt[level] = items
		tiersAt[level] = tiers
	}

	return &RewardResolver{
		table:     table,
		rewardsAt: rewardsAt,
		itemsAt:   itemsAt,
		tiersAt:   tiersAt,
	}
}

// Table returns the threshold table this resolver derives from.
func (r *RewardResolver) Table() *ThresholdTable {
	return r.table
}

// RewardsForLevel returns the rewards granted at exactly the given
// level. The descriptor has empty sets when nothing is granted there.
func (r *RewardResolver) RewardsForLevel(level int) RewardDescriptor {
	if level < 0 || level >= len(r.rewardsAt) {
		return RewardDescriptor{Level: level}
	}
	return r.rewardsAt[level]
}

// ResolveRewards returns the rewards for every level in (oldLevel,
// newLevel], in ascending level order. oldLevel == newLevel yields an
// empty list; newLevel is clamped to MaxLevel.
func (r *RewardResolver) ResolveRewards(oldLevel, newLevel int) []RewardDescriptor {
	if newLevel > r.table.MaxLevel() {
		newLevel = r.table.MaxLevel()
	}
	if oldLevel < 0 {
		oldLevel = 0
	}
	if newLevel <= oldLevel {
		return nil
	}

	rewards := make([]RewardDescriptor, 0, newLevel-oldLevel)
	for level := oldLevel + 1; level <= newLevel; level++ {
		rewards = append(rewards, r.rewardsAt[level])
	}
	return rewards
}

// ItemsForLevel returns the cumulative set of item ids derivable from
// having reached the given level, sorted.
func (r *RewardResolver) ItemsForLevel(level int) []string {
	return r.cumulative(r.itemsAt, level)
}

// TiersForLevel returns the cumulative set of tier ids available at the
// given level, sorted. Tier sets are derived purely from level and are
// never independently mutated.
func (r *RewardResolver) TiersForLevel(level int) []string {
	return r.cumulative(r.tiersAt, level)
}

func (r *RewardResolver) cumulative(sets [][]string, level int) []string {
	if level < 0 {
		return nil
	}
	if level >= len(sets) {
		level = len(sets) - 1
	}
	return append([]string(nil), sets[level]...)
}

// sortedCopy returns a sorted, deduplicated copy of ids.
func sortedCopy(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := append([]string(nil), ids...)
	sort.Strings(out)
	dedup := out[:1]
	for _, id := range out[1:] {
		if id != dedup[len(dedup)-1] {
			dedup = append(dedup, id)
		}
	}
	return dedup
}

// unionSorted merges two sorted id slices into a new sorted slice
// without duplicates. Inputs are not modified.
func unionSorted(a, b []string) []string {
	if len(b) == 0 {
		return append([]string(nil), a...)
	}
	if len(a) == 0 {
		return append([]string(nil), b...)
	}

	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// subtractSorted returns the elements of a not present in b; both
// inputs must be sorted.
func subtractSorted(a, b []string) []string {
	var out []string
	i, j := 0, 0
	for i < len(a) {
		switch {
		case j >= len(b) || a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			j++
		default:
			i++
			j++
		}
	}
	return out
}
