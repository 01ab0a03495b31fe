/*
 * Copyright (c) 2024. Anton Starikov -- All Rights Reserved
 *
 * This file is part of SOTC project.
 *
 * SOTC is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as the Free Software Foundation,
 * either version 3 of the License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package control

import "time"

// Offset bounds; the persisted offset never leaves this range.
const (
	MinOffset = -5.0
	MaxOffset = 5.0
)

const (
	// heating rate below this is treated as "unknown", never divided by
	rateEpsilon = 0.001

	historyCap          = 576 // ~48h at 5-minute ticks
	historyPersistEvery = 10

	// consecutive overshoots before the slow learning rate is retuned
	overshootTuneLimit = 3

	minLearnRateSlow = 0.01

	setpointEqualityEps = 0.01
	stepEps             = 1e-9

	minBoostDuration = 30 * time.Second
	maxBoostDuration = time.Hour
)

// Params is the fully resolved configuration of one controller instance.
// Every value is concrete; defaults are applied at config load, never here.
type Params struct {
	Target   float64
	Interval time.Duration

	Deadband float64
	StepMax  float64
	StepMin  float64
	TRVMin   float64
	TRVMax   float64
	Cooldown time.Duration

	LearnRateFast   float64
	LearnRateSlow   float64
	MinOffsetChange float64
	EnableLearning  bool
	NoLearnSummer   bool
	WindowNoLearn   time.Duration

	BoostDuration time.Duration

	StuckEnable  bool
	StuckAfter   time.Duration
	StuckMinDrop float64
	StuckStep    float64
	MaxStuckBias float64

	HeatingAlpha       float64
	OvershootThreshold float64
	PredictMinutes     float64

	StableLearnAfter     time.Duration
	StableLearnAlpha     float64
	OffsetDecayRate      float64
	OffsetDecayThreshold float64
	OffsetLearnThreshold float64

	TTTAlpha   float64
	TTTSoftMin float64
}

// DefaultParams returns the full default table. The config layer starts from
// these and overrides whatever the YAML file provides.
func DefaultParams() Params {
	return Params{
		Target:   22.0,
		Interval: 240 * time.Second,

		Deadband: 0.2,
		StepMax:  1.0,
		StepMin:  0.5,
		TRVMin:   12.0,
		TRVMax:   30.0,
		Cooldown: 600 * time.Second,

		LearnRateFast:   0.5,
		LearnRateSlow:   0.1,
		MinOffsetChange: 0.2,
		EnableLearning:  true,
		NoLearnSummer:   false,
		WindowNoLearn:   10 * time.Minute,

		BoostDuration: 300 * time.Second,

		StuckEnable:  true,
		StuckAfter:   1800 * time.Second,
		StuckMinDrop: 0.10,
		StuckStep:    0.5,
		MaxStuckBias: 4.0,

		HeatingAlpha:       0.1,
		OvershootThreshold: 0.5,
		PredictMinutes:     5,

		StableLearnAfter:     900 * time.Second,
		StableLearnAlpha:     0.25,
		OffsetDecayRate:      0.01,
		OffsetDecayThreshold: 0.1,
		OffsetLearnThreshold: 0.5,

		TTTAlpha:   0.2,
		TTTSoftMin: 10.0,
	}
}
