package progression

// Merge reconciles two snapshots for the same identity with the
// monotonic max-wins rule: cumulative XP takes the element-wise
// maximum, unlock sets take the union, and level plus tier sets are
// recomputed from the merged XP rather than merged independently.
// The later write timestamp is kept for diagnostics only.
//
// Merge is commutative and associative, so replicas converge to the
// maximum observed state regardless of the order in which local,
// persisted, and remote snapshots become visible.
func Merge(a, b Snapshot, resolver *RewardResolver) Snapshot {
	out := NewSnapshot(a.IdentityID)
	if out.IdentityID == "" {
		out.IdentityID = b.IdentityID
	}

	out.CumulativeXP = a.CumulativeXP
	if b.CumulativeXP > out.CumulativeXP {
		out.CumulativeXP = b.CumulativeXP
	}

	// Level is strictly a function of merged XP. Taking a stored level
	// directly could desynchronize the pair when the two numbers were
	// written by different replicas.
	out.Level = resolver.Table().LevelForXP(out.CumulativeXP)

	// Unlocked items are a superset union: level-derived unlocks plus
	// anything earned out-of-band on either side.
	out.UnlockedItemIDs = unionSorted(
		unionSorted(a.UnlockedItemIDs, b.UnlockedItemIDs),
		resolver.ItemsForLevel(out.Level),
	)

	// Tier availability is derived purely from the merged level.
	out.AvailableTierIDs = resolver.TiersForLevel(out.Level)

	out.LastWriteTimestamp = a.LastWriteTimestamp
	if b.LastWriteTimestamp.After(out.LastWriteTimestamp) {
		out.LastWriteTimestamp = b.LastWriteTimestamp
	}

	return out
}
