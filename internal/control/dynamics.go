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

const heatingRateSaveInterval = 5 * time.Minute

// maybeStartHeatEpisode opens an episode when the error first exceeds the
// deadband with no override active.
func (c *Controller) maybeStartHeatEpisode(in *Inputs, now time.Time) {
	e := in.Target - in.RoomTemp
	if e <= c.params.Deadband {
		return
	}
	if c.state.Window.IsOpen || c.state.Boost.Active {
		return
	}
	if c.state.HeatEpisode != nil {
		return
	}

	c.state.HeatEpisode = &HeatEpisode{
		Start:   now,
		Room0:   in.RoomTemp,
		Target0: in.Target,
		E0:      e,
		MaxRoom: in.RoomTemp,
	}
}

func (c *Controller) updateHeatEpisode(room float64) {
	if c.state.HeatEpisode == nil {
		return
	}
	c.state.HeatEpisode.MaxRoom = math.Max(c.state.HeatEpisode.MaxRoom, room)
}

// maybeFinishHeatEpisode closes the episode once the room reaches the
// deadband from below and blends the measured minutes-per-degree into the
// time-to-target estimate.
func (c *Controller) maybeFinishHeatEpisode(in *Inputs, now time.Time) {
	ep := c.state.HeatEpisode
	if ep == nil {
		return
	}
	if in.RoomTemp+c.params.Deadband < in.Target {
		return
	}

	e0 := math.Max(0.1, ep.E0)
	minutes := now.Sub(ep.Start).Minutes()
	mpd := Clamp(minutes/e0, 2.0, 120.0)

	a := c.params.TTTAlpha
	c.state.MinutesPerDegree = a*mpd + (1-a)*c.state.MinutesPerDegree

	if err := c.store.SetMinutesPerDegree(c.id, c.state.MinutesPerDegree); err != nil {
		logger.L().Errorf("[%s] persist minutes-per-degree: %v", c.id, err)
	}
	logger.L().Infof(
		"[%s] TTT learn: minutes=%.1f e0=%.2f => mpd=%.1f, ema=%.1f",
		c.id, minutes, e0, mpd, c.state.MinutesPerDegree,
	)

	c.state.HeatEpisode = nil
}

// softLandingFactor eases the correction as predicted arrival time drops
// below the soft minimum. Only meaningful for positive error.
func (c *Controller) softLandingFactor(e float64) float64 {
	p := c.params
	predicted := e * c.state.MinutesPerDegree
	if predicted >= p.TTTSoftMin {
		return 1.0
	}
	factor := Clamp(predicted/p.TTTSoftMin, 0.3, 1.0)
	logger.L().Debugf("[%s] TTT soft-landing: predicted=%.1f min, factor=%.2f", c.id, predicted, factor)
	return factor
}

// overshootPreventionFactor damps the correction when the heating-rate EMA
// predicts the target will be reached within the prediction horizon.
func (c *Controller) overshootPreventionFactor(e float64) float64 {
	p := c.params
	if c.state.HeatingRate <= rateEpsilon {
		return 1.0
	}
	predicted := e / c.state.HeatingRate
	if predicted >= p.PredictMinutes {
		return 1.0
	}
	factor := math.Max(0.5, 1-(p.PredictMinutes-predicted)/p.PredictMinutes)
	logger.L().Debugf("[%s] overshoot prevention: predicted=%.1f min, factor=%.2f", c.id, predicted, factor)
	return factor
}

// updateHeatingRate folds the latest rise into the °C/minute EMA. Rejects
// clock jumps, too-short and too-long intervals and non-rising samples.
// Persisted at most once per heatingRateSaveInterval.
func (c *Controller) updateHeatingRate(room float64, now time.Time) {
	s := c.state.PrevSample
	if s == nil {
		return
	}

	dtMin := now.Sub(s.At).Minutes()
	if dtMin <= 0 {
		return
	}
	if dtMin < 0.25 { // < 15 seconds
		return
	}
	if dtMin > 30.0 {
		return
	}

	dT := room - s.Room
	if dT <= 0 {
		return
	}

	rate := dT / dtMin
	a := c.params.HeatingAlpha
	c.state.HeatingRate = math.Max(rateEpsilon, a*rate+(1-a)*c.state.HeatingRate)

	if now.Sub(c.state.LastHeatingRateSave) >= heatingRateSaveInterval {
		c.state.LastHeatingRateSave = now
		if err := c.store.SetHeatingRate(c.id, c.state.HeatingRate, "auto_update"); err != nil {
			logger.L().Errorf("[%s] persist heating rate: %v", c.id, err)
		}
	}
}
