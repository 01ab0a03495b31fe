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
	"time"

	"github.com/antst/sotc/internal/logger"
)

// stuckDetection watches for "room not cooling although it should" while
// the room is hotter than wanted. Each evaluation window without a
// sufficient drop escalates the corrective bias and pushes the candidate
// setpoint down one step. The reference point refreshes every evaluation
// regardless of outcome; leaving the overheated band clears everything.
func (c *Controller) stuckDetection(room, e float64, now time.Time, target float64) float64 {
	p := c.params
	st := &c.state.Stuck

	if e >= -p.Deadband {
		*st = StuckState{}
		return target
	}

	if !st.Active {
		st.Active = true
		st.RefTemp = room
		st.RefTime = now
		return target
	}

	if st.RefTime.IsZero() || now.Sub(st.RefTime) < p.StuckAfter {
		return target
	}

	if room >= st.RefTemp-p.StuckMinDrop {
		st.Bias = min(st.Bias+p.StuckStep, p.MaxStuckBias)
		target = RoundStep(Clamp(target-p.StuckStep, p.TRVMin, p.TRVMax), p.StepMin)
		c.state.LastAction = ActionStuckDown
		logger.L().Infof(
			"[%s] stuck overtemp: room=%.2f ref=%.2f bias=%.2f trv=%.2f",
			c.id, room, st.RefTemp, st.Bias, target,
		)
	}
	st.RefTemp = room
	st.RefTime = now
	return target
}
