// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// Package metrics defines the Prometheus collectors for the progression
// engine. They are registered into the metrics server's registry at
// startup.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// CommitsTotal counts successful XP commits by award reason.
	CommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progression_commits_total",
			Help: "Total number of committed XP awards",
		},
		[]string{"reason"},
	)

	// LevelUpsTotal counts level transitions across all commits.
	LevelUpsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "progression_level_ups_total",
			Help: "Total number of levels crossed by commits",
		},
	)

	// BonusRollsTotal counts bonus roll outcomes by class.
	BonusRollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progression_bonus_rolls_total",
			Help: "Total number of bonus rolls by outcome class",
		},
		[]string{"class"},
	)

	// RemotePushesTotal counts remote push attempts by outcome
	// (ok, retried, dropped).
	RemotePushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progression_remote_pushes_total",
			Help: "Total number of remote snapshot pushes by outcome",
		},
		[]string{"outcome"},
	)

	// BroadcastsTotal counts cross-instance broadcasts by direction
	// (published, absorbed).
	BroadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progression_broadcasts_total",
			Help: "Total number of cross-instance broadcasts by direction",
		},
		[]string{"direction"},
	)

	// CorruptStateRecoveries counts loads that fell back to a fresh
	// default snapshot because persisted state was malformed.
	CorruptStateRecoveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "progression_corrupt_state_recoveries_total",
			Help: "Total number of corrupt persisted states recovered with defaults",
		},
	)
)

// Register registers all engine collectors into the given registry.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		CommitsTotal,
		LevelUpsTotal,
		BonusRollsTotal,
		RemotePushesTotal,
		BroadcastsTotal,
		CorruptStateRecoveries,
	)
}
