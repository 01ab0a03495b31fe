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

	"github.com/pkg/errors"
)

type fakeStore struct {
	offsets    map[string]float64
	reasons    []string
	rates      map[string]float64
	overshoots map[string]int
	mpds       map[string]float64
	histories  map[string][]HistoryEntry

	failWrites bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		offsets:    make(map[string]float64),
		rates:      make(map[string]float64),
		overshoots: make(map[string]int),
		mpds:       make(map[string]float64),
		histories:  make(map[string][]HistoryEntry),
	}
}

func (f *fakeStore) Offset(id string) float64 { return f.offsets[id] }

func (f *fakeStore) SetOffset(id string, value float64, reason string) error {
	if f.failWrites {
		return errors.New("store write failed")
	}
	f.offsets[id] = value
	f.reasons = append(f.reasons, reason)
	return nil
}

func (f *fakeStore) HeatingRate(id string) float64 {
	if v, ok := f.rates[id]; ok {
		return v
	}
	return 0.1
}

func (f *fakeStore) SetHeatingRate(id string, value float64, reason string) error {
	if f.failWrites {
		return errors.New("store write failed")
	}
	f.rates[id] = value
	return nil
}

func (f *fakeStore) OvershootCount(id string) int { return f.overshoots[id] }

func (f *fakeStore) SetOvershootCount(id string, count int) error {
	if f.failWrites {
		return errors.New("store write failed")
	}
	f.overshoots[id] = count
	return nil
}

func (f *fakeStore) IncrementOvershootCount(id string) (int, error) {
	if f.failWrites {
		return f.overshoots[id], errors.New("store write failed")
	}
	f.overshoots[id]++
	return f.overshoots[id], nil
}

func (f *fakeStore) MinutesPerDegree(id string) float64 {
	if v, ok := f.mpds[id]; ok {
		return v
	}
	return 15.0
}

func (f *fakeStore) SetMinutesPerDegree(id string, value float64) error {
	f.mpds[id] = value
	return nil
}

func (f *fakeStore) History(id string) []HistoryEntry { return f.histories[id] }

func (f *fakeStore) SetHistory(id string, entries []HistoryEntry) error {
	f.histories[id] = append([]HistoryEntry(nil), entries...)
	return nil
}

type fakeActuator struct {
	setpoints []float64
	modes     []HVACMode

	setpointErr error
	modeErr     error
}

func (f *fakeActuator) SetSetpoint(temp float64) error {
	if f.setpointErr != nil {
		return f.setpointErr
	}
	f.setpoints = append(f.setpoints, temp)
	return nil
}

func (f *fakeActuator) SetMode(mode HVACMode) error {
	if f.modeErr != nil {
		return f.modeErr
	}
	f.modes = append(f.modes, mode)
	return nil
}

func (f *fakeActuator) lastSetpoint() (float64, bool) {
	if len(f.setpoints) == 0 {
		return 0, false
	}
	return f.setpoints[len(f.setpoints)-1], true
}

type fakeSource struct {
	states    map[string]string
	available bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{states: make(map[string]string), available: true}
}

func (f *fakeSource) ReadState(id string) (string, bool) {
	v, ok := f.states[id]
	return v, ok
}

func (f *fakeSource) DeviceAvailable(id string) bool { return f.available }

// testClock is a manual clock shared by a test and its controller.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, time.November, 12, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type testRig struct {
	ctrl     *Controller
	store    *fakeStore
	actuator *fakeActuator
	source   *fakeSource
	clock    *testClock
	statuses []Status
}

func newTestRig(params Params) *testRig {
	r := &testRig{
		store:    newFakeStore(),
		actuator: &fakeActuator{},
		source:   newFakeSource(),
		clock:    newTestClock(),
	}
	r.source.states["room"] = "20.0"
	r.ctrl = NewController("test", params, Deps{
		Store:    r.store,
		Actuator: r.actuator,
		Source:   r.source,
		Inputs: InputConfig{
			DeviceID:      "trv",
			RoomSensors:   []string{"room"},
			WindowSensors: []string{"window"},
		},
		Notify: func(s Status) { r.statuses = append(r.statuses, s) },
		Now:    r.clock.now,
	})
	return r
}

func (r *testRig) lastStatus() Status {
	return r.statuses[len(r.statuses)-1]
}

func (r *testRig) setRoom(temp string) { r.source.states["room"] = temp }

func (r *testRig) setWindow(state string) { r.source.states["window"] = state }
