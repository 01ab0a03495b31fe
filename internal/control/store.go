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

// Store is the durable per-instance learning state. Reads are synchronous
// against an in-memory copy; writes may be flushed lazily by the
// implementation. Implementations must serialize read-modify-write
// sequences on a given id. Write errors are recoverable: the in-memory
// state stays authoritative until the next successful flush.
type Store interface {
	Offset(id string) float64
	SetOffset(id string, value float64, reason string) error

	HeatingRate(id string) float64
	SetHeatingRate(id string, value float64, reason string) error

	OvershootCount(id string) int
	SetOvershootCount(id string, count int) error
	IncrementOvershootCount(id string) (int, error)

	MinutesPerDegree(id string) float64
	SetMinutesPerDegree(id string, value float64) error

	History(id string) []HistoryEntry
	SetHistory(id string, entries []HistoryEntry) error
}

// Actuator is the write side of the heating device. Calls must be
// time-bounded; a stuck device must not stall the periodic schedule.
type Actuator interface {
	SetSetpoint(temp float64) error
	SetMode(mode HVACMode) error
}
