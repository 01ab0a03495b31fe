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

import "github.com/pkg/errors"

// ErrMissingInput is the root cause of every per-tick input failure. All
// variants are recoverable: the tick is skipped, observers still notified,
// and the next tick retries.
var (
	ErrMissingInput = errors.New("missing input")

	ErrNoRoomSensors     = errors.Wrap(ErrMissingInput, "no room temperature sensors configured")
	ErrNoValidRoomTemp   = errors.Wrap(ErrMissingInput, "no configured sensor reports a numeric temperature")
	ErrDeviceUnavailable = errors.Wrap(ErrMissingInput, "heating device unavailable")
)

// IsMissingInput reports whether err is any MissingInput variant.
func IsMissingInput(err error) bool {
	return errors.Is(err, ErrMissingInput)
}

// StateSource is the read side of the host's entity registry: last-known
// sensor states plus device availability.
type StateSource interface {
	ReadState(id string) (string, bool)
	DeviceAvailable(id string) bool
}

// InputConfig names the entities one controller instance reads.
type InputConfig struct {
	DeviceID      string
	RoomSensors   []string
	WindowSensors []string
}

// Inputs is the immutable per-tick snapshot.
type Inputs struct {
	RoomTemp   float64
	Target     float64
	WindowOpen bool
}

// InputReader resolves the current room temperature (mean over all valid
// sensors), window state and device availability into one snapshot.
type InputReader struct {
	cfg InputConfig
	src StateSource
}

func NewInputReader(cfg InputConfig, src StateSource) *InputReader {
	return &InputReader{cfg: cfg, src: src}
}

// Read produces the snapshot for this tick or a MissingInput variant.
// Sensors with unavailable or non-numeric states are excluded from the
// mean, never treated as zero.
func (r *InputReader) Read(target float64) (*Inputs, error) {
	if len(r.cfg.RoomSensors) == 0 {
		return nil, ErrNoRoomSensors
	}
	if !r.src.DeviceAvailable(r.cfg.DeviceID) {
		return nil, ErrDeviceUnavailable
	}

	sum, n := 0.0, 0
	for _, id := range r.cfg.RoomSensors {
		raw, ok := r.src.ReadState(id)
		if !ok {
			continue
		}
		v, ok := ParseTemperature(raw)
		if !ok {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return nil, ErrNoValidRoomTemp
	}

	open := false
	for _, id := range r.cfg.WindowSensors {
		if raw, ok := r.src.ReadState(id); ok && TruthyState(raw) {
			open = true
			break
		}
	}

	return &Inputs{RoomTemp: sum / float64(n), Target: target, WindowOpen: open}, nil
}

// skipAction maps an input failure to its diagnostic action tag.
func skipAction(err error) string {
	switch {
	case errors.Is(err, ErrNoRoomSensors):
		return ActionSkippedNoSensors
	case errors.Is(err, ErrDeviceUnavailable):
		return ActionSkippedUnavailable
	default:
		return ActionSkippedInvalidTemp
	}
}
