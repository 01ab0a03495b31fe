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
	"testing"
)

func TestInputReaderMeansValidSensorsOnly(t *testing.T) {
	src := newFakeSource()
	src.states["a"] = "20.0"
	src.states["b"] = "21.0"
	src.states["c"] = "unavailable"

	r := NewInputReader(InputConfig{
		DeviceID:    "trv",
		RoomSensors: []string{"a", "b", "c", "missing"},
	}, src)

	in, err := r.Read(22.0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if math.Abs(in.RoomTemp-20.5) > 1e-9 {
		t.Fatalf("room temp = %v, want 20.5", in.RoomTemp)
	}
	if in.Target != 22.0 {
		t.Fatalf("target = %v, want 22.0", in.Target)
	}
}

func TestInputReaderFailures(t *testing.T) {
	t.Run("no sensors configured", func(t *testing.T) {
		r := NewInputReader(InputConfig{DeviceID: "trv"}, newFakeSource())
		_, err := r.Read(22.0)
		if !IsMissingInput(err) {
			t.Fatalf("expected MissingInput, got %v", err)
		}
		if got := skipAction(err); got != ActionSkippedNoSensors {
			t.Fatalf("skip action = %q, want %q", got, ActionSkippedNoSensors)
		}
	})

	t.Run("device unavailable", func(t *testing.T) {
		src := newFakeSource()
		src.states["a"] = "20.0"
		src.available = false
		r := NewInputReader(InputConfig{DeviceID: "trv", RoomSensors: []string{"a"}}, src)
		_, err := r.Read(22.0)
		if !IsMissingInput(err) {
			t.Fatalf("expected MissingInput, got %v", err)
		}
		if got := skipAction(err); got != ActionSkippedUnavailable {
			t.Fatalf("skip action = %q, want %q", got, ActionSkippedUnavailable)
		}
	})

	t.Run("all sensors invalid", func(t *testing.T) {
		src := newFakeSource()
		src.states["a"] = "unknown"
		r := NewInputReader(InputConfig{DeviceID: "trv", RoomSensors: []string{"a"}}, src)
		_, err := r.Read(22.0)
		if !IsMissingInput(err) {
			t.Fatalf("expected MissingInput, got %v", err)
		}
		if got := skipAction(err); got != ActionSkippedInvalidTemp {
			t.Fatalf("skip action = %q, want %q", got, ActionSkippedInvalidTemp)
		}
	})
}

func TestInputReaderWindowAggregation(t *testing.T) {
	src := newFakeSource()
	src.states["a"] = "20.0"
	src.states["w1"] = "off"
	src.states["w2"] = "open"

	r := NewInputReader(InputConfig{
		DeviceID:      "trv",
		RoomSensors:   []string{"a"},
		WindowSensors: []string{"w1", "w2"},
	}, src)

	in, err := r.Read(22.0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !in.WindowOpen {
		t.Fatal("expected window open when any sensor is open")
	}

	src.states["w2"] = "closed"
	in, err = r.Read(22.0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if in.WindowOpen {
		t.Fatal("expected window closed when all sensors are closed")
	}
}
