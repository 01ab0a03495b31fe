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

// HVACMode is the configured operating mode of one controller instance.
type HVACMode string

const (
	ModeHeat HVACMode = "heat"
	ModeOff  HVACMode = "off"
)

// Action tags recorded by the tick pipeline; diagnostics only.
const (
	ActionInit            = "init"
	ActionHold            = "hold"
	ActionSetTemperature  = "set_temperature"
	ActionSetFailed       = "set_failed"
	ActionWindowOpen      = "window_open"
	ActionBoost           = "boost"
	ActionHVACOff         = "hvac_off"
	ActionDeadbandInit    = "deadband_init"
	ActionDeadbandRebase  = "deadband_rebase"
	ActionStableLearn     = "stable_learn"
	ActionStuckDown       = "stuck_overtemp_down"
	ActionCooldown        = "cooldown"
	ActionSkippedNoChange = "skipped_no_change"
	ActionResetOffset     = "reset_offset"

	ActionSkippedNoSensors   = "skipped_no_sensors"
	ActionSkippedUnavailable = "skipped_unavailable_entities"
	ActionSkippedInvalidTemp = "skipped_invalid_room_temp"
)

// BoostState tracks a temporary max-setpoint override.
type BoostState struct {
	Active bool
	Until  time.Time
}

// WindowState tracks the aggregated open/closed state of the window sensors.
// OpenSince is zero while closed.
type WindowState struct {
	IsOpen    bool
	OpenSince time.Time
}

// StabilityState tracks dwell time inside the deadband for stable learning.
// Reset whenever the error leaves the deadband, the target changes, the
// commanded setpoint changes, or a learning update fires.
type StabilityState struct {
	Since      time.Time // zero: not tracking
	Target     float64
	SetAtStart float64
}

// StuckState is the overheat watchdog. Bias is a persistent downward
// pressure on the candidate setpoint, not a one-shot nudge.
type StuckState struct {
	Active  bool
	RefTemp float64
	RefTime time.Time
	Bias    float64
}

// HeatEpisode is open only while actively heating outside the deadband.
type HeatEpisode struct {
	Start   time.Time
	Room0   float64
	Target0 float64
	E0      float64
	MaxRoom float64
}

// Sample is a (room temperature, time) reference point for rate-of-change
// estimation; refreshed every tick regardless of which mode ran.
type Sample struct {
	Room float64
	At   time.Time
}

// HistoryEntry is one diagnostic record per notification.
type HistoryEntry struct {
	Time     time.Time `json:"time"`
	Error    *float64  `json:"error,omitempty"`
	Offset   float64   `json:"offset"`
	Setpoint *float64  `json:"trv_set,omitempty"`
	Action   string    `json:"action"`
}

// ControllerState is owned exclusively by the Controller and mutated only
// under its tick mutex.
type ControllerState struct {
	LastSet       *float64
	LastChange    time.Time
	LastAction    string
	LastError     *float64
	LastTargetTRV *float64
	LastRoomTemp  *float64
	ChangeCount   int

	HVACMode HVACMode

	Boost     BoostState
	Window    WindowState
	Stability StabilityState
	Stuck     StuckState

	HeatEpisode *HeatEpisode

	HeatingRate      float64 // °C/minute EMA, >= rateEpsilon once hydrated
	MinutesPerDegree float64
	OvershootCount   int
	LearnRateSlow    float64

	PrevSample *Sample

	LastOffsetUpdate    time.Time
	LastHeatingRateSave time.Time

	History []HistoryEntry

	// internal bookkeeping
	lastRoomTarget *float64
	lastDeviceMode HVACMode
	forceNext      bool
}

// Status is the immutable snapshot handed to the notification sink after
// every tick; observers (status publishers, UIs) consume it read-only.
type Status struct {
	Name             string   `json:"name"`
	Action           string   `json:"action"`
	HVACMode         HVACMode `json:"hvac_mode"`
	RoomTemp         *float64 `json:"room_temp,omitempty"`
	Target           float64  `json:"target"`
	Error            *float64 `json:"error,omitempty"`
	Offset           float64  `json:"offset"`
	Setpoint         *float64 `json:"trv_setpoint,omitempty"`
	PendingSetpoint  *float64 `json:"pending_setpoint,omitempty"`
	HeatingRate      float64  `json:"heating_rate"`
	MinutesPerDegree float64  `json:"minutes_per_degree"`
	OvershootCount   int      `json:"overshoot_count"`
	ChangeCount      int      `json:"change_count"`
	BoostActive      bool     `json:"boost_active"`
	WindowOpen       bool     `json:"window_open"`
	StuckBias        float64  `json:"stuck_bias"`
}
