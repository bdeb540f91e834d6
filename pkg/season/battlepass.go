// Package season implements the battle pass subsystem: a narrower
// instance of the progression reconciliation pattern scoped to one
// season's cumulative XP and tier-cost table.
package season

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/AccelByte/extend-progression-engine/pkg/content"
	"github.com/AccelByte/extend-progression-engine/pkg/store"
	"github.com/sirupsen/logrus"
)

// KeyPrefix is the prefix for locally persisted battle pass state.
const KeyPrefix = "battlepass:state:"

// Track identifies the reward track of a battle pass tier.
type Track string

const (
	TrackFree    Track = "free"
	TrackPremium Track = "premium"
)

var (
	// ErrTierNotReached is returned when claiming a tier above the
	// current tier.
	ErrTierNotReached = errors.New("tier not reached")
	// ErrAlreadyClaimed is returned when a (tier, track) pair was
	// claimed before; the claim is exclusive, not cumulative.
	ErrAlreadyClaimed = errors.New("tier already claimed")
	// ErrPremiumRequired is returned when claiming the premium track
	// without a premium grant.
	ErrPremiumRequired = errors.New("premium pass required")
	// ErrInvalidAmount is returned for negative season XP amounts.
	ErrInvalidAmount = errors.New("season xp amount must be non-negative")
)

// State is the battle pass state for one identity in one season. Tier
// is a pure function of CumulativeSeasonXP and the season's tier cost
// table, and is re-derived on every load and merge.
type State struct {
	SeasonID            string    `json:"seasonId"`
	CumulativeSeasonXP  int64     `json:"cumulativeSeasonXp"`
	Tier                int       `json:"tier"`
	ClaimedFreeTiers    []int     `json:"claimedFreeTiers"`
	ClaimedPremiumTiers []int     `json:"claimedPremiumTiers"`
	HasPremium          bool      `json:"hasPremium"`
	PremiumSubscription bool      `json:"premiumSubscription"` // subscription-backed grants survive rollover
	LastWriteTimestamp  time.Time `json:"lastWriteTimestamp"`
}

// Manager owns battle pass state transitions for one identity. All
// mutations go through the manager so tier derivation and claim guards
// cannot be bypassed.
type Manager struct {
	identityID string
	store      store.Store

	season     content.SeasonConfig
	cumulative []int64 // cumulative cost to reach each tier, index == tier-1
}

// NewManager creates a battle pass manager for the given season.
func NewManager(identityID string, st store.Store, season content.SeasonConfig) (*Manager, error) {
	if identityID == "" {
		return nil, fmt.Errorf("identity ID is required")
	}
	if len(season.TierCosts) == 0 {
		return nil, fmt.Errorf("season %s has no tier costs", season.ID)
	}

	cumulative := make([]int64, len(season.TierCosts))
	var sum int64
	for i, cost := range season.TierCosts {
		sum += cost
		cumulative[i] = sum
	}

	return &Manager{
		identityID: identityID,
		store:      st,
		season:     season,
		cumulative: cumulative,
	}, nil
}

// MaxTier returns the season's highest tier.
func (m *Manager) MaxTier() int {
	return len(m.cumulative)
}

// TierForXP returns the highest tier whose cumulative cost is covered
// by the given season XP, capped at MaxTier.
func (m *Manager) TierForXP(seasonXP int64) int {
	idx := sort.Search(len(m.cumulative), func(i int) bool {
		return m.cumulative[i] > seasonXP
	})
	return idx
}

// Load returns the persisted state, migrating state from a previous
// season through Rollover and recovering corrupt state with defaults.
func (m *Manager) Load() State {
	state := m.loadRaw()
	if state.SeasonID != m.season.ID {
		state = m.rollover(state)
		if err := m.persist(state); err != nil {
			logrus.Warnf("failed to persist season rollover: %v", err)
		}
	}
	return state
}

// AddSeasonXP adds season XP and re-derives the tier. Negative amounts
// are rejected with ErrInvalidAmount.
func (m *Manager) AddSeasonXP(amount int64) (State, error) {
	if amount < 0 {
		return State{}, fmt.Errorf("rejecting season xp %d: %w", amount, ErrInvalidAmount)
	}

	state := m.Load()
	state.CumulativeSeasonXP += amount
	state.Tier = m.TierForXP(state.CumulativeSeasonXP)
	state.LastWriteTimestamp = time.Now().UTC()

	if err := m.persist(state); err != nil {
		return state, err
	}

	logrus.Debugf("season %s: +%d xp -> tier %d (%d total)",
		m.season.ID, amount, state.Tier, state.CumulativeSeasonXP)
	return state, nil
}

// Claim marks a (tier, track) reward as claimed. A claim is valid only
// for a reached tier, each pair claims at most once, and the premium
// track requires a premium grant. A rejected claim leaves state
// untouched.
func (m *Manager) Claim(tier int, track Track) (State, error) {
	state := m.Load()

	if tier < 1 || tier > state.Tier {
		return state, fmt.Errorf("claim tier %d with current tier %d: %w", tier, state.Tier, ErrTierNotReached)
	}
	if track == TrackPremium && !state.HasPremium {
		return state, fmt.Errorf("claim tier %d premium: %w", tier, ErrPremiumRequired)
	}

	claimed := &state.ClaimedFreeTiers
	if track == TrackPremium {
		claimed = &state.ClaimedPremiumTiers
	}
	if containsInt(*claimed, tier) {
		return state, fmt.Errorf("claim tier %d %s: %w", tier, track, ErrAlreadyClaimed)
	}

	*claimed = insertSorted(*claimed, tier)
	state.LastWriteTimestamp = time.Now().UTC()

	if err := m.persist(state); err != nil {
		return state, err
	}

	logrus.Infof("season %s: claimed tier %d (%s)", m.season.ID, tier, track)
	return state, nil
}

// GrantPremium grants the premium track. subscription marks the grant
// as subscription-backed, which survives season rollover; a one-time
// purchase is season-scoped.
func (m *Manager) GrantPremium(subscription bool) (State, error) {
	state := m.Load()
	state.HasPremium = true
	state.PremiumSubscription = state.PremiumSubscription || subscription
	state.LastWriteTimestamp = time.Now().UTC()

	if err := m.persist(state); err != nil {
		return state, err
	}
	return state, nil
}

// Reset clears the battle pass state for this identity.
func (m *Manager) Reset() error {
	if err := m.store.Delete(m.key()); err != nil {
		return fmt.Errorf("failed to reset battle pass state: %w", err)
	}
	return nil
}

// Merge reconciles two states for the same season: season XP takes the
// maximum, the tier is re-derived from the merged XP, claim sets take
// the union, and premium grants are sticky.
func (m *Manager) Merge(a, b State) State {
	if a.SeasonID != b.SeasonID {
		// Different seasons never merge; keep the current one.
		if a.SeasonID == m.season.ID {
			return a
		}
		return b
	}

	out := a
	if b.CumulativeSeasonXP > out.CumulativeSeasonXP {
		out.CumulativeSeasonXP = b.CumulativeSeasonXP
	}
	out.Tier = m.TierForXP(out.CumulativeSeasonXP)
	out.ClaimedFreeTiers = unionInts(a.ClaimedFreeTiers, b.ClaimedFreeTiers)
	out.ClaimedPremiumTiers = unionInts(a.ClaimedPremiumTiers, b.ClaimedPremiumTiers)
	out.HasPremium = a.HasPremium || b.HasPremium
	out.PremiumSubscription = a.PremiumSubscription || b.PremiumSubscription
	if b.LastWriteTimestamp.After(out.LastWriteTimestamp) {
		out.LastWriteTimestamp = b.LastWriteTimestamp
	}
	return out
}

// rollover migrates state from a previous season: season XP, tier, and
// claim sets reset; premium survives only when subscription-backed.
func (m *Manager) rollover(old State) State {
	fresh := m.defaultState()
	fresh.PremiumSubscription = old.PremiumSubscription
	fresh.HasPremium = old.PremiumSubscription

	if old.SeasonID != "" {
		logrus.Infof("season rollover %s -> %s (premium retained: %v)",
			old.SeasonID, m.season.ID, fresh.HasPremium)
	}
	return fresh
}

func (m *Manager) key() string {
	return KeyPrefix + m.identityID
}

func (m *Manager) defaultState() State {
	return State{
		SeasonID:            m.season.ID,
		ClaimedFreeTiers:    []int{},
		ClaimedPremiumTiers: []int{},
	}
}

func (m *Manager) loadRaw() State {
	data, err := m.store.Get(m.key())
	if errors.Is(err, store.ErrNotFound) {
		return m.defaultState()
	}
	if err != nil {
		logrus.Errorf("failed to read battle pass state, starting fresh: %v", err)
		return m.defaultState()
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		logrus.Errorf("corrupt battle pass state for %s, starting fresh: %v", m.identityID, err)
		return m.defaultState()
	}

	// Merging with the default state re-derives the tier on load so a
	// tampered pair cannot survive.
	if state.SeasonID == m.season.ID {
		state = m.Merge(state, m.defaultState())
	}
	if state.ClaimedFreeTiers == nil {
		state.ClaimedFreeTiers = []int{}
	}
	if state.ClaimedPremiumTiers == nil {
		state.ClaimedPremiumTiers = []int{}
	}
	return state
}

func (m *Manager) persist(state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal battle pass state: %w", err)
	}
	if err := m.store.Set(m.key(), data); err != nil {
		return fmt.Errorf("failed to persist battle pass state: %w", err)
	}
	return nil
}

func containsInt(list []int, v int) bool {
	i := sort.SearchInts(list, v)
	return i < len(list) && list[i] == v
}

func insertSorted(list []int, v int) []int {
	i := sort.SearchInts(list, v)
	if i < len(list) && list[i] == v {
		return list
	}
	list = append(list, 0)
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}

func unionInts(a, b []int) []int {
	out := append([]int(nil), a...)
	for _, v := range b {
		out = insertSorted(out, v)
	}
	return out
}
