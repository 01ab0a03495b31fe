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

import (
	"math"
	"sync"
	"time"

	"github.com/antst/sotc/internal/logger"
)

// Controller runs the adaptive setpoint-offset loop for one thermostat
// instance. All triggers (periodic tick, commands, window events) funnel
// into the same tick function, serialized by a per-instance mutex.
type Controller struct {
	id string

	mu       sync.Mutex
	params   Params
	store    Store
	actuator Actuator
	reader   *InputReader
	state    *ControllerState
	sink     func(Status)
	now      func() time.Time
}

// Deps are the external collaborators of a Controller.
type Deps struct {
	Store    Store
	Actuator Actuator
	Source   StateSource
	Inputs   InputConfig
	Notify   func(Status)
	Now      func() time.Time // nil: time.Now
}

func NewController(id string, params Params, deps Deps) *Controller {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		id:       id,
		params:   params,
		store:    deps.Store,
		actuator: deps.Actuator,
		reader:   NewInputReader(deps.Inputs, deps.Source),
		sink:     deps.Notify,
		now:      now,
		state: &ControllerState{
			LastAction:       ActionInit,
			HVACMode:         ModeHeat,
			HeatingRate:      0.1,
			MinutesPerDegree: 15.0,
			LearnRateSlow:    params.LearnRateSlow,
		},
	}
}

// Interval returns the configured periodic tick interval.
func (c *Controller) Interval() time.Duration {
	return c.params.Interval
}

// Start hydrates persisted learning state and runs the first tick.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hydrateLocked()
	c.tickLocked()
}

// Hydrate loads persisted learning state without ticking, for instances
// that must not actuate yet.
func (c *Controller) Hydrate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hydrateLocked()
}

func (c *Controller) hydrateLocked() {
	c.state.History = c.store.History(c.id)
	c.state.HeatingRate = math.Max(rateEpsilon, c.store.HeatingRate(c.id))
	c.state.OvershootCount = c.store.OvershootCount(c.id)
	c.state.MinutesPerDegree = c.store.MinutesPerDegree(c.id)
	c.state.LearnRateSlow = c.params.LearnRateSlow

	logger.L().Debugf(
		"[%s] hydrated: rate=%.3f mpd=%.1f overshoots=%d history=%d",
		c.id, c.state.HeatingRate, c.state.MinutesPerDegree,
		c.state.OvershootCount, len(c.state.History),
	)
}

// Shutdown persists heating rate, overshoot count and history. Must be
// called before the instance is considered stopped.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Boost = BoostState{}
	if err := c.store.SetHeatingRate(c.id, c.state.HeatingRate, "shutdown"); err != nil {
		logger.L().Errorf("[%s] persist heating rate: %v", c.id, err)
	}
	if err := c.store.SetOvershootCount(c.id, c.state.OvershootCount); err != nil {
		logger.L().Errorf("[%s] persist overshoot count: %v", c.id, err)
	}
	if err := c.store.SetHistory(c.id, c.state.History); err != nil {
		logger.L().Errorf("[%s] persist history: %v", c.id, err)
	}
}

// Tick runs one periodic control cycle.
func (c *Controller) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickLocked()
}

// TriggerOnce runs one cycle on demand; force bypasses cooldown.
func (c *Controller) TriggerOnce(force bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if force {
		c.state.forceNext = true
	}
	c.tickLocked()
}

// ResetOffset zeroes the persisted offset and recomputes immediately.
func (c *Controller) ResetOffset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.SetOffset(c.id, 0.0, "manual_reset"); err != nil {
		logger.L().Errorf("[%s] reset offset: %v", c.id, err)
	}
	c.state.LastAction = ActionResetOffset
	c.state.forceNext = true
	c.tickLocked()
}

// StartBoost activates the boost override for duration (0 picks the
// configured default) and returns the clamped duration actually used.
// The caller owns the expiry timer and calls CancelBoost from it.
func (c *Controller) StartBoost(duration time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if duration <= 0 {
		duration = c.params.BoostDuration
	}
	if duration < minBoostDuration {
		duration = minBoostDuration
	}
	if duration > maxBoostDuration {
		duration = maxBoostDuration
	}

	c.state.Boost = BoostState{Active: true, Until: c.now().Add(duration)}
	c.state.forceNext = true
	c.tickLocked()
	return duration
}

// CancelBoost clears the boost override and recomputes.
func (c *Controller) CancelBoost() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Boost = BoostState{}
	c.state.forceNext = true
	c.tickLocked()
}

// SetHVACMode switches between heat and off.
func (c *Controller) SetHVACMode(mode HVACMode) {
	if mode != ModeHeat && mode != ModeOff {
		logger.L().Warnf("[%s] ignoring unknown hvac mode %q", c.id, mode)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.HVACMode = mode
	c.state.forceNext = true
	c.tickLocked()
}

// SetTarget updates the target room temperature.
func (c *Controller) SetTarget(target float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params.Target = target
	c.state.forceNext = true
	c.tickLocked()
}

// tickLocked evaluates the mode arbiter in strict priority order:
// input failure > OFF > WINDOW_OPEN > BOOST > DEADBAND_HOLD > ACTIVE.
func (c *Controller) tickLocked() {
	now := c.now()

	in, err := c.reader.Read(c.params.Target)
	if err != nil {
		c.state.LastAction = skipAction(err)
		c.state.LastRoomTemp = nil
		logger.L().Debugf("[%s] tick skipped: %v", c.id, err)
		c.notifyLocked()
		return
	}

	e := in.Target - in.RoomTemp
	c.state.LastError = fptr(math.Round(e*1000) / 1000)
	c.state.LastRoomTemp = fptr(in.RoomTemp)

	if c.state.HVACMode == ModeOff {
		c.state.Boost = BoostState{}
		c.ensureDeviceMode(ModeOff)
		c.state.LastAction = ActionHVACOff
		c.state.Stuck = StuckState{}
		c.resetStability()
		c.refreshPrevSample(in.RoomTemp, now)
		c.notifyLocked()
		return
	}
	c.ensureDeviceMode(ModeHeat)

	if in.WindowOpen != c.state.Window.IsOpen {
		c.state.Window.IsOpen = in.WindowOpen
		if in.WindowOpen {
			c.state.Window.OpenSince = now
		} else {
			c.state.Window.OpenSince = time.Time{}
		}
	}

	if c.state.Window.IsOpen {
		c.handleWindowOpen()
		c.refreshPrevSample(in.RoomTemp, now)
		c.notifyLocked()
		return
	}

	if c.state.Boost.Active && now.Before(c.state.Boost.Until) {
		c.handleBoost()
		c.refreshPrevSample(in.RoomTemp, now)
		c.notifyLocked()
		return
	}
	c.state.Boost = BoostState{} // expired or inactive

	if c.handleDeadband(in, now) {
		c.refreshPrevSample(in.RoomTemp, now)
		c.notifyLocked()
		return
	}

	c.activeControl(in, now)
	c.refreshPrevSample(in.RoomTemp, now)
	c.notifyLocked()
}

// handleWindowOpen forces the device minimum; preempts boost and active
// control regardless of error.
func (c *Controller) handleWindowOpen() {
	p := c.params
	c.state.Boost = BoostState{}

	target := RoundStep(p.TRVMin, p.StepMin)
	c.state.LastTargetTRV = fptr(target)
	if c.state.LastSet == nil || math.Abs(target-*c.state.LastSet) >= p.StepMin-stepEps {
		c.commandSetpoint(target)
	}
	c.state.LastAction = ActionWindowOpen
	c.state.Stuck = StuckState{}
	c.resetStability()
}

// handleBoost forces the device maximum while the override is running.
func (c *Controller) handleBoost() {
	p := c.params
	c.resetStability()
	c.state.Stuck = StuckState{}

	target := Clamp(p.TRVMax, p.TRVMin, p.TRVMax)
	c.state.LastTargetTRV = fptr(target)
	if c.state.LastSet == nil || math.Abs(target-*c.state.LastSet) >= p.StepMin-stepEps {
		c.commandSetpoint(target)
	}
	c.state.LastAction = ActionBoost
}

// handleDeadband holds (or rebases) the setpoint while the error is within
// tolerance. Returns false when active control should run instead.
func (c *Controller) handleDeadband(in *Inputs, now time.Time) bool {
	p := c.params
	e := in.Target - in.RoomTemp
	if math.Abs(e) > p.Deadband {
		return false
	}

	offset := c.store.Offset(c.id)
	baseline := RoundStep(Clamp(in.Target+offset, p.TRVMin, p.TRVMax), p.StepMin)

	targetChanged := c.state.lastRoomTarget != nil &&
		math.Abs(in.Target-*c.state.lastRoomTarget) > stepEps
	c.state.lastRoomTarget = fptr(in.Target)

	if targetChanged || c.state.LastSet == nil {
		c.state.LastTargetTRV = fptr(baseline)
		if c.state.LastSet == nil || math.Abs(baseline-*c.state.LastSet) >= p.StepMin-stepEps {
			c.commandSetpoint(baseline)
			if targetChanged {
				c.state.LastAction = ActionDeadbandRebase
			} else {
				c.state.LastAction = ActionDeadbandInit
			}
		} else {
			c.state.LastAction = ActionHold
		}
		c.resetStability()
		return true
	}

	c.state.LastTargetTRV = c.state.LastSet
	c.state.LastAction = ActionHold
	c.stableLearning(in, now)
	return true
}

// activeControl is the full correction/learning/stuck pipeline.
func (c *Controller) activeControl(in *Inputs, now time.Time) {
	p := c.params
	e := in.Target - in.RoomTemp

	// the error left the deadband, so any stable-learning dwell is over
	c.resetStability()

	c.maybeStartHeatEpisode(in, now)
	c.updateHeatEpisode(in.RoomTemp)
	c.maybeFinishHeatEpisode(in, now)

	offset := c.detectOvershoot(in)
	offset = c.activeLearning(e, offset, now)

	correction := Clamp(0.5*e, -p.StepMax, p.StepMax)
	if e > 0 {
		correction *= c.softLandingFactor(e)
		correction *= c.overshootPreventionFactor(e)
	}

	target := RoundStep(in.Target+offset+correction, p.StepMin)

	if p.StuckEnable && !c.state.Window.IsOpen && !c.state.Boost.Active {
		target = c.stuckDetection(in.RoomTemp, e, now, target)
	}
	if e < -p.Deadband && c.state.Stuck.Bias > 0 {
		target = RoundStep(Clamp(target-c.state.Stuck.Bias, p.TRVMin, p.TRVMax), p.StepMin)
	}

	target = Clamp(target, p.TRVMin, p.TRVMax)
	c.state.LastTargetTRV = fptr(target)

	if c.state.LastSet != nil {
		if math.Abs(target-*c.state.LastSet) < p.StepMin-stepEps {
			c.state.LastAction = ActionSkippedNoChange
			return
		}
		if now.Sub(c.state.LastChange) < p.Cooldown && !c.state.forceNext {
			c.state.LastAction = ActionCooldown
			return
		}
	}

	if c.commandSetpoint(target) {
		c.state.LastAction = ActionSetTemperature
		logger.L().Debugf(
			"[%s] set_temperature: room=%.2f target=%.2f error=%.2f offset=%.2f correction=%.2f trv=%.2f rate=%.3f",
			c.id, in.RoomTemp, in.Target, e, offset, correction, target, c.state.HeatingRate,
		)
	}

	if e > p.Deadband && !c.state.Window.IsOpen && !c.state.Boost.Active {
		c.updateHeatingRate(in.RoomTemp, now)
	}
	c.offsetDecay(now)
}

// commandSetpoint writes the setpoint to the device. Actuation errors are
// logged and non-fatal; the tick completes with a set_failed tag.
func (c *Controller) commandSetpoint(temp float64) bool {
	if c.state.LastSet != nil && math.Abs(temp-*c.state.LastSet) < setpointEqualityEps {
		return false
	}

	if err := c.actuator.SetSetpoint(temp); err != nil {
		logger.L().Errorf("[%s] setpoint %.2f write failed: %v", c.id, temp, err)
		c.state.LastAction = ActionSetFailed
		return false
	}

	c.state.LastSet = fptr(temp)
	c.state.LastChange = c.now()
	c.state.ChangeCount++
	c.state.forceNext = false
	logger.L().Debugf("[%s] commanded setpoint %.2f", c.id, temp)
	return true
}

// ensureDeviceMode idempotently keeps the device in the wanted mode, so it
// is never left off (or heating) after an override ends.
func (c *Controller) ensureDeviceMode(mode HVACMode) {
	if c.state.lastDeviceMode == mode {
		return
	}
	if err := c.actuator.SetMode(mode); err != nil {
		logger.L().Errorf("[%s] mode %q write failed: %v", c.id, mode, err)
		return
	}
	c.state.lastDeviceMode = mode
}

func (c *Controller) resetStability() {
	c.state.Stability = StabilityState{}
}

func (c *Controller) refreshPrevSample(room float64, now time.Time) {
	// Refreshed every tick so dt never balloons after window/boost/deadband.
	c.state.PrevSample = &Sample{Room: room, At: now}
}

// notifyLocked appends a history entry, persists the log every few entries
// and hands the snapshot to the sink.
func (c *Controller) notifyLocked() {
	offset := c.store.Offset(c.id)

	c.state.History = append(c.state.History, HistoryEntry{
		Time:     c.now(),
		Error:    c.state.LastError,
		Offset:   offset,
		Setpoint: c.state.LastSet,
		Action:   c.state.LastAction,
	})
	if len(c.state.History) > historyCap {
		c.state.History = c.state.History[len(c.state.History)-historyCap:]
	}
	if len(c.state.History)%historyPersistEvery == 0 {
		if err := c.store.SetHistory(c.id, c.state.History); err != nil {
			logger.L().Errorf("[%s] persist history: %v", c.id, err)
		}
	}

	if c.sink != nil {
		c.sink(Status{
			Name:             c.id,
			Action:           c.state.LastAction,
			HVACMode:         c.state.HVACMode,
			RoomTemp:         c.state.LastRoomTemp,
			Target:           c.params.Target,
			Error:            c.state.LastError,
			Offset:           offset,
			Setpoint:         c.state.LastSet,
			PendingSetpoint:  c.state.LastTargetTRV,
			HeatingRate:      c.state.HeatingRate,
			MinutesPerDegree: c.state.MinutesPerDegree,
			OvershootCount:   c.state.OvershootCount,
			ChangeCount:      c.state.ChangeCount,
			BoostActive:      c.state.Boost.Active,
			WindowOpen:       c.state.Window.IsOpen,
			StuckBias:        c.state.Stuck.Bias,
		})
	}
}

func fptr(v float64) *float64 { return &v }
