package progression

import (
	"math/rand"
	"sync"
	"time"

	"github.com/AccelByte/extend-progression-engine/pkg/content"
	"github.com/sirupsen/logrus"
)

// BonusRoller draws a bonus class and multiplier from the configured
// cumulative-probability table. It owns its random source (never shared
// with any other subsystem) and a roll is never retried or re-rolled
// once returned.
type BonusRoller struct {
	rows []content.BonusConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBonusRoller creates a roller with a time-seeded random source.
func NewBonusRoller(rows []content.BonusConfig) *BonusRoller {
	return NewBonusRollerWithSource(rows, rand.NewSource(time.Now().UnixNano()))
}

// NewBonusRollerWithSource creates a roller with an explicit random
// source, for deterministic tests.
func NewBonusRollerWithSource(rows []content.BonusConfig, source rand.Source) *BonusRoller {
	return &BonusRoller{
		rows: append([]content.BonusConfig(nil), rows...),
		rng:  rand.New(source),
	}
}

// Roll performs a single weighted draw against the probability table.
// With an empty table every roll is BonusNone at x1.
func (b *BonusRoller) Roll() BonusRoll {
	b.mu.Lock()
	draw := b.rng.Float64()
	b.mu.Unlock()

	cumulative := 0.0
	for _, row := range b.rows {
		cumulative += row.Weight
		if draw < cumulative {
			roll := BonusRoll{
				Multiplier: row.Multiplier,
				Class:      BonusClass(row.Class),
			}
			logrus.Debugf("bonus roll: class=%s multiplier=%.2f", roll.Class, roll.Multiplier.Float())
			return roll
		}
	}

	// Table weights sum to 1, so this only happens with an empty table
	// or float rounding at the very top of the range.
	return BonusRoll{Multiplier: content.Rational{Num: 1, Den: 1}, Class: BonusNone}
}
