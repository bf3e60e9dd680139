// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sessions

import (
	"math/rand/v2"
	"time"
)

// SyntheticConfig configures the Synthetic dataset generator.
type SyntheticConfig struct {
	NumUsers, NumItems int

	// SessionsPerUser: each user gets between MinSessions and MaxSessions sessions.
	MinSessions, MaxSessions int

	// Sessions have between MinLength and MaxLength items (including the last target).
	MinLength, MaxLength int

	// Predictability is the probability that the next item follows the user's pattern, instead of
	// being random.
	Predictability float64

	// TestFraction of each user's sessions, the most recent ones, used for testing.
	TestFraction float64

	// Start time of the first sessions.
	Start time.Time

	Seed uint64
}

// DefaultSyntheticConfig returns a small configuration, good for demos.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		NumUsers:       200,
		NumItems:       500,
		MinSessions:    4,
		MaxSessions:    20,
		MinLength:      2,
		MaxLength:      12,
		Predictability: 0.8,
		TestFraction:   0.2,
		Start:          time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		Seed:           42,
	}
}

// Synthetic generates a deterministic (given the Seed) dataset with learnable structure: each user walks
// the item space with their own stride, and also tends to start sessions at their own hour of the day.
func Synthetic(cfg SyntheticConfig) *Dataset {
	rng := rand.New(rand.NewPCG(cfg.Seed, 0x5e55))
	numRealItems := cfg.NumItems - 1
	ds := &Dataset{Name: "synthetic", NumItems: cfg.NumItems, NumUsers: cfg.NumUsers}
	for userID := range cfg.NumUsers {
		stride := 1 + rng.IntN(5)
		hourOfDay := rng.IntN(24)
		numSessions := cfg.MinSessions + rng.IntN(cfg.MaxSessions-cfg.MinSessions+1)
		ts := cfg.Start.Unix() + int64(hourOfDay)*3600
		all := make([]Session, numSessions)
		for ii := range all {
			length := cfg.MinLength + rng.IntN(cfg.MaxLength-cfg.MinLength+1)
			items := make([]int32, length)
			item := rng.IntN(numRealItems)
			for jj := range items {
				if jj > 0 {
					if rng.Float64() < cfg.Predictability {
						item = (item + stride) % numRealItems
					} else {
						item = rng.IntN(numRealItems)
					}
				}
				items[jj] = int32(item + 1)
			}
			all[ii] = Session{Timestamp: ts, Items: items}
			ts += int64(1+rng.IntN(3)) * 24 * 3600
		}
		numTest := min(int(float64(numSessions)*cfg.TestFraction+0.5), numSessions-1)
		numTrain := numSessions - numTest
		ds.Train = append(ds.Train, UserSessions{UserID: int32(userID), Sessions: all[:numTrain]})
		if numTest > 0 {
			ds.Test = append(ds.Test, UserSessions{UserID: int32(userID), Sessions: all[numTrain:]})
		}
	}
	return ds
}
