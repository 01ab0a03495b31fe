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
	"time"
)

func TestActiveLearningRates(t *testing.T) {
	r := newTestRig(DefaultParams())
	now := r.clock.now()

	t.Run("fast rate far outside deadband", func(t *testing.T) {
		got := r.ctrl.activeLearning(2.0, 0.0, now)
		if got != 1.0 {
			t.Fatalf("offset = %v, want 1.0", got)
		}
	})

	t.Run("slow delta below hysteresis is dropped", func(t *testing.T) {
		got := r.ctrl.activeLearning(0.3, 0.0, now)
		if got != 0.0 {
			t.Fatalf("offset = %v, want unchanged 0.0", got)
		}
	})

	t.Run("negative error learns downward", func(t *testing.T) {
		got := r.ctrl.activeLearning(-1.0, 0.0, now)
		if got != -0.5 {
			t.Fatalf("offset = %v, want -0.5", got)
		}
	})

	t.Run("inside deadband never learns", func(t *testing.T) {
		got := r.ctrl.activeLearning(0.1, 0.75, now)
		if got != 0.75 {
			t.Fatalf("offset = %v, want unchanged 0.75", got)
		}
	})

	t.Run("disabled learning is inert", func(t *testing.T) {
		p := DefaultParams()
		p.EnableLearning = false
		rd := newTestRig(p)
		if got := rd.ctrl.activeLearning(2.0, 0.0, now); got != 0.0 {
			t.Fatalf("offset = %v, want unchanged 0.0", got)
		}
	})
}

func TestActiveLearningSurvivesStoreFailure(t *testing.T) {
	r := newTestRig(DefaultParams())
	r.store.failWrites = true

	got := r.ctrl.activeLearning(2.0, 0.5, r.clock.now())
	if got != 0.5 {
		t.Fatalf("offset = %v, want previous value on write failure", got)
	}
}

func TestOvershootRetunesSlowRate(t *testing.T) {
	r := newTestRig(DefaultParams())
	in := &Inputs{RoomTemp: 23.0, Target: 22.0}

	for i := 0; i < 4; i++ {
		r.ctrl.detectOvershoot(in)
	}
	if got := r.ctrl.state.LearnRateSlow; math.Abs(got-0.09) > 1e-9 {
		t.Fatalf("slow rate = %v, want 0.09 after retune", got)
	}
	if got := r.store.overshoots["test"]; got != 0 {
		t.Fatalf("persisted overshoot count = %v, want 0 after retune", got)
	}

	// below the overshoot band the counter is untouched
	before := r.store.overshoots["test"]
	r.ctrl.detectOvershoot(&Inputs{RoomTemp: 22.4, Target: 22.0})
	if r.store.overshoots["test"] != before {
		t.Fatal("overshoot counter must not move inside the tolerance band")
	}
}

func TestStableLearningAfterDwell(t *testing.T) {
	r := newTestRig(DefaultParams())

	// active phase drives the offset to 1.0 and the TRV to 24.0
	r.setRoom("20.0")
	r.ctrl.Tick()

	// then the room settles just below target while the TRV sits at 24.0
	r.setRoom("21.9")
	r.clock.advance(4 * time.Minute)
	r.ctrl.Tick() // starts dwell tracking

	r.clock.advance(15 * time.Minute)
	r.ctrl.Tick()

	// implied = 24.0-21.9 = 2.1, blended 25% towards it from 1.0
	if got := r.store.Offset("test"); math.Abs(got-1.275) > 1e-9 {
		t.Fatalf("offset = %v, want 1.275", got)
	}
	if got := r.lastStatus().Action; got != ActionStableLearn {
		t.Fatalf("action = %q, want %q", got, ActionStableLearn)
	}
	if r.store.reasons[len(r.store.reasons)-1] != "stable_learn" {
		t.Fatalf("reasons = %v, want stable_learn last", r.store.reasons)
	}
}

func TestStableLearningDwellResetByExcursion(t *testing.T) {
	r := newTestRig(DefaultParams())

	// active phase drives the offset to 1.0 and the TRV to 24.0
	r.setRoom("20.0")
	r.ctrl.Tick()

	r.setRoom("21.9")
	r.clock.advance(4 * time.Minute)
	r.ctrl.Tick() // starts dwell tracking

	// mid-dwell the room dips out of the deadband for one tick
	r.setRoom("21.7")
	r.clock.advance(4 * time.Minute)
	r.ctrl.Tick()
	if got := r.lastStatus().Action; got != ActionCooldown {
		t.Fatalf("excursion action = %q, want %q", got, ActionCooldown)
	}

	// back in band; the original dwell deadline passes without learning
	r.setRoom("21.9")
	r.clock.advance(4 * time.Minute)
	r.ctrl.Tick()
	r.clock.advance(4 * time.Minute)
	r.ctrl.Tick()
	if got := r.store.Offset("test"); got != 1.0 {
		t.Fatalf("offset after interrupted dwell = %v, want 1.0", got)
	}
	if got := r.lastStatus().Action; got != ActionHold {
		t.Fatalf("action = %q, want %q", got, ActionHold)
	}

	// a fresh continuous dwell still learns
	r.clock.advance(16 * time.Minute)
	r.ctrl.Tick()
	if got := r.store.Offset("test"); math.Abs(got-1.275) > 1e-9 {
		t.Fatalf("offset after continuous dwell = %v, want 1.275", got)
	}
	if got := r.lastStatus().Action; got != ActionStableLearn {
		t.Fatalf("action = %q, want %q", got, ActionStableLearn)
	}
}

func TestStableLearningConvergedStaysPut(t *testing.T) {
	r := newTestRig(DefaultParams())
	r.setRoom("21.9")

	r.ctrl.Tick() // deadband init at 22.0
	r.clock.advance(4 * time.Minute)
	r.ctrl.Tick() // dwell starts
	r.clock.advance(15 * time.Minute)
	r.ctrl.Tick()

	// implied 0.1 is within the learn threshold of the stored 0.0
	if got := r.store.Offset("test"); got != 0.0 {
		t.Fatalf("offset = %v, want unchanged 0.0", got)
	}
	if got := r.lastStatus().Action; got != ActionHold {
		t.Fatalf("action = %q, want %q", got, ActionHold)
	}
}

func TestStableLearningSummerSuppression(t *testing.T) {
	p := DefaultParams()
	p.NoLearnSummer = true
	r := newTestRig(p)
	r.clock.t = time.Date(2024, time.July, 10, 12, 0, 0, 0, time.UTC)

	r.ctrl.state.LastSet = fptr(24.0)
	in := &Inputs{RoomTemp: 21.9, Target: 22.0}

	r.ctrl.stableLearning(in, r.clock.now())
	r.clock.advance(20 * time.Minute)
	r.ctrl.stableLearning(in, r.clock.now())

	if got := r.store.Offset("test"); got != 0.0 {
		t.Fatalf("offset = %v, summer must suppress learning", got)
	}
}

func TestOffsetDecay(t *testing.T) {
	t.Run("stale offset decays towards zero", func(t *testing.T) {
		r := newTestRig(DefaultParams())
		r.store.offsets["test"] = 2.5
		r.ctrl.state.LastOffsetUpdate = r.clock.now()
		r.clock.advance(10 * 24 * time.Hour)

		r.ctrl.offsetDecay(r.clock.now())
		if got := r.store.Offset("test"); math.Abs(got-2.25) > 1e-9 {
			t.Fatalf("offset = %v, want 2.25 after 10 days", got)
		}
		if r.store.reasons[len(r.store.reasons)-1] != "offset_decay" {
			t.Fatalf("reasons = %v, want offset_decay last", r.store.reasons)
		}
	})

	t.Run("small offsets are left alone", func(t *testing.T) {
		r := newTestRig(DefaultParams())
		r.store.offsets["test"] = 0.05
		r.ctrl.state.LastOffsetUpdate = r.clock.now()
		r.clock.advance(10 * 24 * time.Hour)

		r.ctrl.offsetDecay(r.clock.now())
		if got := r.store.Offset("test"); got != 0.05 {
			t.Fatalf("offset = %v, want untouched 0.05", got)
		}
	})

	t.Run("fresh offsets do not decay", func(t *testing.T) {
		r := newTestRig(DefaultParams())
		r.store.offsets["test"] = 2.5
		r.ctrl.state.LastOffsetUpdate = r.clock.now()
		r.clock.advance(12 * time.Hour)

		r.ctrl.offsetDecay(r.clock.now())
		if got := r.store.Offset("test"); got != 2.5 {
			t.Fatalf("offset = %v, want untouched 2.5", got)
		}
	})
}
