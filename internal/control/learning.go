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
	"time"

	"github.com/antst/sotc/internal/logger"
)

// detectOvershoot counts room temperatures above target+threshold and
// retunes the slow learning rate downward after repeated overshoots.
// Returns the current persisted offset for the rest of the pipeline.
func (c *Controller) detectOvershoot(in *Inputs) float64 {
	p := c.params
	offset := c.store.Offset(c.id)

	if in.RoomTemp <= in.Target+p.OvershootThreshold {
		return offset
	}

	n, err := c.store.IncrementOvershootCount(c.id)
	if err != nil {
		logger.L().Errorf("[%s] increment overshoot count: %v", c.id, err)
	} else {
		c.state.OvershootCount = n
	}

	if c.state.OvershootCount > overshootTuneLimit {
		c.state.LearnRateSlow = math.Max(minLearnRateSlow, c.state.LearnRateSlow*0.9)
		logger.L().Infof(
			"[%s] auto-tune: slow learn rate lowered to %.3f after repeated overshoot",
			c.id, c.state.LearnRateSlow,
		)
		c.state.OvershootCount = 0
		if err := c.store.SetOvershootCount(c.id, 0); err != nil {
			logger.L().Errorf("[%s] reset overshoot count: %v", c.id, err)
		}
	}
	return offset
}

// activeLearning nudges the offset proportionally to the error, fast when
// far outside the deadband, slow (auto-tuned) when close. The persisted
// value only moves when the change clears the hysteresis floor.
func (c *Controller) activeLearning(e, offset float64, now time.Time) float64 {
	p := c.params
	if !p.EnableLearning || math.Abs(e) <= p.Deadband {
		return offset
	}

	rate := c.state.LearnRateSlow
	if math.Abs(e) > 2*p.Deadband {
		rate = p.LearnRateFast
	}

	dir := 1.0
	if e < 0 {
		dir = -1.0
	}
	next := Clamp(offset+dir*rate*math.Abs(e), MinOffset, MaxOffset)
	if math.Abs(next-offset) < p.MinOffsetChange {
		return offset
	}

	if err := c.store.SetOffset(c.id, next, "active_learning"); err != nil {
		logger.L().Errorf("[%s] persist offset: %v", c.id, err)
		return offset
	}
	c.state.LastOffsetUpdate = now
	logger.L().Debugf(
		"[%s] active learning: error=%.2f rate=%.3f offset=%.2f -> %.2f",
		c.id, e, rate, offset, next,
	)
	return next
}

// stableLearning runs while holding inside the deadband: after a sustained
// dwell with an unchanged target and setpoint, the offset implied by the
// actual room temperature pulls the persisted offset towards itself.
func (c *Controller) stableLearning(in *Inputs, now time.Time) {
	p := c.params
	if !p.EnableLearning || c.state.LastSet == nil {
		return
	}
	if p.NoLearnSummer {
		if m := c.now().Month(); m >= time.June && m <= time.August {
			return
		}
	}
	if c.state.Window.IsOpen && !c.state.Window.OpenSince.IsZero() &&
		now.Sub(c.state.Window.OpenSince) >= p.WindowNoLearn {
		return
	}

	st := &c.state.Stability
	if st.Since.IsZero() || st.Target != in.Target || st.SetAtStart != *c.state.LastSet {
		st.Since = now
		st.Target = in.Target
		st.SetAtStart = *c.state.LastSet
		return
	}
	if now.Sub(st.Since) < p.StableLearnAfter {
		return
	}

	implied := Clamp(*c.state.LastSet-in.RoomTemp, MinOffset, MaxOffset)
	current := c.store.Offset(c.id)

	if math.Abs(implied-current) > p.OffsetLearnThreshold {
		next := Clamp(current+p.StableLearnAlpha*(implied-current), MinOffset, MaxOffset)
		if math.Abs(next-current) >= p.MinOffsetChange {
			if err := c.store.SetOffset(c.id, next, "stable_learn"); err != nil {
				logger.L().Errorf("[%s] persist offset: %v", c.id, err)
			} else {
				c.state.LastAction = ActionStableLearn
				c.state.LastOffsetUpdate = now
				logger.L().Debugf(
					"[%s] stable learning: room=%.2f target=%.2f set=%.2f implied=%.2f offset=%.2f -> %.2f",
					c.id, in.RoomTemp, in.Target, *c.state.LastSet, implied, current, next,
				)
			}
		}
	}

	c.state.Stuck.Bias = 0
	c.resetStability()
}

// offsetDecay slowly pulls a stale offset towards zero once it has been
// untouched for more than a day.
func (c *Controller) offsetDecay(now time.Time) {
	p := c.params
	if !p.EnableLearning || c.state.LastOffsetUpdate.IsZero() {
		return
	}

	days := now.Sub(c.state.LastOffsetUpdate).Hours() / 24
	if days <= 1 {
		return
	}

	current := c.store.Offset(c.id)
	if math.Abs(current) <= p.OffsetDecayThreshold {
		return
	}

	mult := math.Max(0.0, 1.0-p.OffsetDecayRate*days)
	next := current * mult
	if math.Abs(next-current) < p.MinOffsetChange {
		return
	}

	if err := c.store.SetOffset(c.id, next, "offset_decay"); err != nil {
		logger.L().Errorf("[%s] persist offset: %v", c.id, err)
		return
	}
	c.state.LastOffsetUpdate = now
	logger.L().Infof("[%s] offset decay: days=%.1f offset=%.2f -> %.2f", c.id, days, current, next)
}
