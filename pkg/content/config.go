package content

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete progression content configuration:
// level thresholds, per-level rewards, bonus roll probabilities, battle
// pass seasons, and streak/combo tuning. It is loaded once at startup
// and treated as immutable afterwards.
type Config struct {
	Levels  []int64        `yaml:"levels"` // cumulative XP required, index == level
	Rewards []RewardConfig `yaml:"rewards,omitempty"`
	Bonus   []BonusConfig  `yaml:"bonus,omitempty"`
	Session SessionConfig  `yaml:"session"`
	Seasons []SeasonConfig `yaml:"seasons,omitempty"`
	Streak  StreakConfig   `yaml:"streak"`
	Combo   ComboConfig    `yaml:"combo"`
}

// RewardConfig lists the content granted when a level is reached.
type RewardConfig struct {
	Level int      `yaml:"level"`
	Items []string `yaml:"items,omitempty"` // unlockable item ids
	Tiers []string `yaml:"tiers,omitempty"` // world segment / content tier ids
}

// BonusConfig is one row of the bonus roll probability table.
type BonusConfig struct {
	Class      string   `yaml:"class"`
	Weight     float64  `yaml:"weight"`
	Multiplier Rational `yaml:"multiplier"`
}

// Rational is an exact multiplier; XP math stays in integers.
type Rational struct {
	Num int64 `yaml:"num" json:"num"`
	Den int64 `yaml:"den" json:"den"`
}

// Apply multiplies amount by the rational, flooring the result.
func (r Rational) Apply(amount int64) int64 {
	if r.Den == 0 {
		return amount
	}
	return amount * r.Num / r.Den
}

// Float returns the multiplier as a float64 for logging and display.
func (r Rational) Float() float64 {
	if r.Den == 0 {
		return 1
	}
	return float64(r.Num) / float64(r.Den)
}

// SessionConfig converts focus session minutes into base XP.
type SessionConfig struct {
	XPPerMinute        int64 `yaml:"xpPerMinute"`
	MaxMinutesPerAward int   `yaml:"maxMinutesPerAward"`
}

// SeasonConfig describes one battle pass season.
type SeasonConfig struct {
	ID        string  `yaml:"id"`
	TierCosts []int64 `yaml:"tierCosts"` // incremental season XP cost of each tier, index == tier-1
}

// StreakConfig tunes the daily streak subsystem.
type StreakConfig struct {
	FreezeTokenCap int `yaml:"freezeTokenCap"`
}

// ComboConfig tunes the combo subsystem.
type ComboConfig struct {
	WindowHours int         `yaml:"windowHours"`
	MaxCombo    int         `yaml:"maxCombo"`
	Steps       []ComboStep `yaml:"steps,omitempty"`
}

// ComboStep maps a minimum combo count to an XP multiplier. Steps must
// be sorted by ascending MinCombo.
type ComboStep struct {
	MinCombo   int      `yaml:"minCombo"`
	Multiplier Rational `yaml:"multiplier"`
}

// LoadConfig loads progression content configuration from a YAML file.
// Supports environment variable expansion in the form ${VAR_NAME} or ${VAR_NAME:default}.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read content config %s: %w", path, err)
	}

	expanded := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML content config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid content configuration: %w", err)
	}

	return &config, nil
}

// Validate validates the content configuration for common errors.
func (c *Config) Validate() error {
	if len(c.Levels) == 0 {
		return fmt.Errorf("levels table is empty")
	}
	if c.Levels[0] != 0 {
		return fmt.Errorf("level 0 must require 0 XP, got %d", c.Levels[0])
	}
	for i := 1; i < len(c.Levels); i++ {
		if c.Levels[i] <= c.Levels[i-1] {
			return fmt.Errorf("level thresholds must be strictly increasing: level %d (%d) <= level %d (%d)",
				i, c.Levels[i], i-1, c.Levels[i-1])
		}
	}

	maxLevel := len(c.Levels) - 1
	seenRewardLevels := make(map[int]bool)
	for _, reward := range c.Rewards {
		if reward.Level < 1 || reward.Level > maxLevel {
			return fmt.Errorf("reward level %d out of range [1, %d]", reward.Level, maxLevel)
		}
		if seenRewardLevels[reward.Level] {
			return fmt.Errorf("duplicate reward entry for level %d", reward.Level)
		}
		seenRewardLevels[reward.Level] = true
	}

	if len(c.Bonus) > 0 {
		seenClasses := make(map[string]bool)
		totalWeight := 0.0
		for _, row := range c.Bonus {
			if row.Class == "" {
				return fmt.Errorf("bonus row with empty class found")
			}
			if seenClasses[row.Class] {
				return fmt.Errorf("duplicate bonus class: %s", row.Class)
			}
			seenClasses[row.Class] = true

			if row.Weight < 0 || row.Weight > 1 {
				return fmt.Errorf("bonus class %s has weight %f outside [0, 1]", row.Class, row.Weight)
			}
			if row.Multiplier.Num <= 0 || row.Multiplier.Den <= 0 {
				return fmt.Errorf("bonus class %s has non-positive multiplier %d/%d",
					row.Class, row.Multiplier.Num, row.Multiplier.Den)
			}
			totalWeight += row.Weight
		}
		if math.Abs(totalWeight-1.0) > 1e-9 {
			return fmt.Errorf("bonus weights must sum to 1.0, got %f", totalWeight)
		}
	}

	if c.Session.XPPerMinute < 0 {
		return fmt.Errorf("session.xpPerMinute must be non-negative, got %d", c.Session.XPPerMinute)
	}

	seenSeasons := make(map[string]bool)
	for _, season := range c.Seasons {
		if season.ID == "" {
			return fmt.Errorf("season with empty ID found")
		}
		if seenSeasons[season.ID] {
			return fmt.Errorf("duplicate season ID: %s", season.ID)
		}
		seenSeasons[season.ID] = true

		if len(season.TierCosts) == 0 {
			return fmt.Errorf("season %s has no tier costs", season.ID)
		}
		for i, cost := range season.TierCosts {
			if cost <= 0 {
				return fmt.Errorf("season %s tier %d has non-positive cost %d", season.ID, i+1, cost)
			}
		}
	}

	if c.Streak.FreezeTokenCap < 0 {
		return fmt.Errorf("streak.freezeTokenCap must be non-negative, got %d", c.Streak.FreezeTokenCap)
	}

	if c.Combo.WindowHours < 0 {
		return fmt.Errorf("combo.windowHours must be non-negative, got %d", c.Combo.WindowHours)
	}
	for i := 1; i < len(c.Combo.Steps); i++ {
		if c.Combo.Steps[i].MinCombo <= c.Combo.Steps[i-1].MinCombo {
			return fmt.Errorf("combo steps must have strictly increasing minCombo")
		}
	}

	return nil
}

// MaxLevel returns the highest level defined by the threshold table.
func (c *Config) MaxLevel() int {
	return len(c.Levels) - 1
}

// Season returns the season config with the given ID, or nil.
func (c *Config) Season(id string) *SeasonConfig {
	for i := range c.Seasons {
		if c.Seasons[i].ID == id {
			return &c.Seasons[i]
		}
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}.
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		parts := strings.SplitN(key, ":", 2)
		varName := parts[0]
		defaultValue := ""
		if len(parts) == 2 {
			defaultValue = parts[1]
		}

		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}
