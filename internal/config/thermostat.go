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

package config

import (
	"time"

	"github.com/antst/sotc/internal/control"
)

// ThermostatConfig holds every tunable of one controller instance. Absent
// values fall back to the default table, never to errors.
type ThermostatConfig struct {
	Climate       *ClimateConfig  `yaml:"climate"`
	RoomSensors   []*SensorConfig `yaml:"room_sensors"`
	WindowSensors []*SensorConfig `yaml:"window_sensors,omitempty"`
	// Deprecated: single-sensor form, folded into WindowSensors on load.
	WindowSensor *SensorConfig `yaml:"window_sensor,omitempty"`

	Target      *float64 `yaml:"target"`
	IntervalSec *int     `yaml:"interval_sec"`
	Deadband    *float64 `yaml:"deadband"`
	StepMax     *float64 `yaml:"step_max"`
	StepMin     *float64 `yaml:"step_min"`
	TRVMin      *float64 `yaml:"trv_min"`
	TRVMax      *float64 `yaml:"trv_max"`
	CooldownSec *int     `yaml:"cooldown_sec"`

	LearnRateFast    *float64 `yaml:"learn_rate_fast"`
	LearnRateSlow    *float64 `yaml:"learn_rate_slow"`
	MinOffsetChange  *float64 `yaml:"min_offset_change"`
	EnableLearning   *bool    `yaml:"enable_learning"`
	NoLearnSummer    *bool    `yaml:"no_learn_summer"`
	WindowNoLearnMin *int     `yaml:"window_no_learn_min"`

	BoostDurationSec *int `yaml:"boost_duration_sec"`

	StuckEnable  *bool    `yaml:"stuck_enable"`
	StuckSeconds *int     `yaml:"stuck_seconds"`
	StuckMinDrop *float64 `yaml:"stuck_min_drop"`
	StuckStep    *float64 `yaml:"stuck_step"`
	MaxStuckBias *float64 `yaml:"max_stuck_bias"`

	HeatingAlpha       *float64 `yaml:"heating_alpha"`
	OvershootThreshold *float64 `yaml:"overshoot_threshold"`
	PredictMinutes     *float64 `yaml:"predict_minutes"`

	StableLearnSec       *int     `yaml:"stable_learn_sec"`
	StableLearnAlpha     *float64 `yaml:"stable_learn_alpha"`
	OffsetDecayRate      *float64 `yaml:"offset_decay_rate"`
	OffsetDecayThreshold *float64 `yaml:"offset_decay_threshold"`
	OffsetLearnThreshold *float64 `yaml:"offset_learn_threshold"`

	TTTAlpha   *float64 `yaml:"ttt_alpha"`
	TTTSoftMin *float64 `yaml:"ttt_soft_min"`
}

func NewThermostatConfig() *ThermostatConfig {
	cfg := &ThermostatConfig{
		Climate:     NewClimateConfig(),
		RoomSensors: make([]*SensorConfig, 0),
	}
	cfg.FillDefaults()
	return cfg
}

func (t *ThermostatConfig) FillDefaults() {
	def := control.DefaultParams()

	if t.Climate == nil {
		t.Climate = NewClimateConfig()
	}
	t.Climate.FillDefaults()

	// legacy scalar window sensor
	if t.WindowSensor != nil {
		t.WindowSensors = append(t.WindowSensors, t.WindowSensor)
		t.WindowSensor = nil
	}
	for _, s := range t.RoomSensors {
		s.FillDefaults()
	}
	for _, s := range t.WindowSensors {
		s.FillDefaults()
	}

	if t.Target == nil {
		t.Target = GetPTR(def.Target)
	}
	if t.IntervalSec == nil {
		t.IntervalSec = GetPTR(int(def.Interval / time.Second))
	}
	if t.Deadband == nil {
		t.Deadband = GetPTR(def.Deadband)
	}
	if t.StepMax == nil {
		t.StepMax = GetPTR(def.StepMax)
	}
	if t.StepMin == nil {
		t.StepMin = GetPTR(def.StepMin)
	}
	if t.TRVMin == nil {
		t.TRVMin = GetPTR(def.TRVMin)
	}
	if t.TRVMax == nil {
		t.TRVMax = GetPTR(def.TRVMax)
	}
	if t.CooldownSec == nil {
		t.CooldownSec = GetPTR(int(def.Cooldown / time.Second))
	}
	if t.LearnRateFast == nil {
		t.LearnRateFast = GetPTR(def.LearnRateFast)
	}
	if t.LearnRateSlow == nil {
		t.LearnRateSlow = GetPTR(def.LearnRateSlow)
	}
	if t.MinOffsetChange == nil {
		t.MinOffsetChange = GetPTR(def.MinOffsetChange)
	}
	if t.EnableLearning == nil {
		t.EnableLearning = GetPTR(def.EnableLearning)
	}
	if t.NoLearnSummer == nil {
		t.NoLearnSummer = GetPTR(def.NoLearnSummer)
	}
	if t.WindowNoLearnMin == nil {
		t.WindowNoLearnMin = GetPTR(int(def.WindowNoLearn / time.Minute))
	}
	if t.BoostDurationSec == nil {
		t.BoostDurationSec = GetPTR(int(def.BoostDuration / time.Second))
	}
	if t.StuckEnable == nil {
		t.StuckEnable = GetPTR(def.StuckEnable)
	}
	if t.StuckSeconds == nil {
		t.StuckSeconds = GetPTR(int(def.StuckAfter / time.Second))
	}
	if t.StuckMinDrop == nil {
		t.StuckMinDrop = GetPTR(def.StuckMinDrop)
	}
	if t.StuckStep == nil {
		t.StuckStep = GetPTR(def.StuckStep)
	}
	if t.MaxStuckBias == nil {
		t.MaxStuckBias = GetPTR(def.MaxStuckBias)
	}
	if t.HeatingAlpha == nil {
		t.HeatingAlpha = GetPTR(def.HeatingAlpha)
	}
	if t.OvershootThreshold == nil {
		t.OvershootThreshold = GetPTR(def.OvershootThreshold)
	}
	if t.PredictMinutes == nil {
		t.PredictMinutes = GetPTR(def.PredictMinutes)
	}
	if t.StableLearnSec == nil {
		t.StableLearnSec = GetPTR(int(def.StableLearnAfter / time.Second))
	}
	if t.StableLearnAlpha == nil {
		t.StableLearnAlpha = GetPTR(def.StableLearnAlpha)
	}
	if t.OffsetDecayRate == nil {
		t.OffsetDecayRate = GetPTR(def.OffsetDecayRate)
	}
	if t.OffsetDecayThreshold == nil {
		t.OffsetDecayThreshold = GetPTR(def.OffsetDecayThreshold)
	}
	if t.OffsetLearnThreshold == nil {
		t.OffsetLearnThreshold = GetPTR(def.OffsetLearnThreshold)
	}
	if t.TTTAlpha == nil {
		t.TTTAlpha = GetPTR(def.TTTAlpha)
	}
	if t.TTTSoftMin == nil {
		t.TTTSoftMin = GetPTR(def.TTTSoftMin)
	}
}

// Params resolves the YAML view into the control package's concrete
// parameter set. FillDefaults must have run first.
func (t *ThermostatConfig) Params() control.Params {
	return control.Params{
		Target:   *t.Target,
		Interval: time.Duration(*t.IntervalSec) * time.Second,

		Deadband: *t.Deadband,
		StepMax:  *t.StepMax,
		StepMin:  *t.StepMin,
		TRVMin:   *t.TRVMin,
		TRVMax:   *t.TRVMax,
		Cooldown: time.Duration(*t.CooldownSec) * time.Second,

		LearnRateFast:   *t.LearnRateFast,
		LearnRateSlow:   *t.LearnRateSlow,
		MinOffsetChange: *t.MinOffsetChange,
		EnableLearning:  *t.EnableLearning,
		NoLearnSummer:   *t.NoLearnSummer,
		WindowNoLearn:   time.Duration(*t.WindowNoLearnMin) * time.Minute,

		BoostDuration: time.Duration(*t.BoostDurationSec) * time.Second,

		StuckEnable:  *t.StuckEnable,
		StuckAfter:   time.Duration(*t.StuckSeconds) * time.Second,
		StuckMinDrop: *t.StuckMinDrop,
		StuckStep:    *t.StuckStep,
		MaxStuckBias: *t.MaxStuckBias,

		HeatingAlpha:       *t.HeatingAlpha,
		OvershootThreshold: *t.OvershootThreshold,
		PredictMinutes:     *t.PredictMinutes,

		StableLearnAfter:     time.Duration(*t.StableLearnSec) * time.Second,
		StableLearnAlpha:     *t.StableLearnAlpha,
		OffsetDecayRate:      *t.OffsetDecayRate,
		OffsetDecayThreshold: *t.OffsetDecayThreshold,
		OffsetLearnThreshold: *t.OffsetLearnThreshold,

		TTTAlpha:   *t.TTTAlpha,
		TTTSoftMin: *t.TTTSoftMin,
	}
}
