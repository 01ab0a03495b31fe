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

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/antst/sotc/internal/control"
)

func openTest(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestDefaultsForUnknownInstance(t *testing.T) {
	s, _ := openTest(t)

	if got := s.Offset("kitchen"); got != 0.0 {
		t.Fatalf("offset = %v, want 0.0", got)
	}
	if got := s.HeatingRate("kitchen"); got != 0.1 {
		t.Fatalf("heating rate = %v, want 0.1", got)
	}
	if got := s.MinutesPerDegree("kitchen"); got != 15.0 {
		t.Fatalf("minutes per degree = %v, want 15.0", got)
	}
	if got := s.OvershootCount("kitchen"); got != 0 {
		t.Fatalf("overshoot count = %v, want 0", got)
	}
	if got := s.LastOffsetChange("kitchen"); got != 0 {
		t.Fatalf("last offset change = %v, want 0", got)
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.SetOffset("kitchen", 1.5, "active_learning"); err != nil {
		t.Fatalf("SetOffset: %v", err)
	}
	if err := s.SetHeatingRate("kitchen", 0.25, "auto_update"); err != nil {
		t.Fatalf("SetHeatingRate: %v", err)
	}
	if err := s.SetMinutesPerDegree("kitchen", 42.0); err != nil {
		t.Fatalf("SetMinutesPerDegree: %v", err)
	}
	if _, err := s.IncrementOvershootCount("kitchen"); err != nil {
		t.Fatalf("IncrementOvershootCount: %v", err)
	}
	if err := s.SetHistory("kitchen", []control.HistoryEntry{
		{Time: time.Now(), Offset: 1.5, Action: "set_temperature"},
	}); err != nil {
		t.Fatalf("SetHistory: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if got := s2.Offset("kitchen"); got != 1.5 {
		t.Fatalf("offset = %v, want 1.5", got)
	}
	if got := s2.HeatingRate("kitchen"); got != 0.25 {
		t.Fatalf("heating rate = %v, want 0.25", got)
	}
	if got := s2.MinutesPerDegree("kitchen"); got != 42.0 {
		t.Fatalf("minutes per degree = %v, want 42.0", got)
	}
	if got := s2.OvershootCount("kitchen"); got != 1 {
		t.Fatalf("overshoot count = %v, want 1", got)
	}
	if got := s2.History("kitchen"); len(got) != 1 || got[0].Action != "set_temperature" {
		t.Fatalf("history = %+v, want one set_temperature entry", got)
	}
	if s2.LastOffsetChange("kitchen") == 0 {
		t.Fatal("last offset change must be recorded")
	}
}

func TestOffsetClampedOnWrite(t *testing.T) {
	s, _ := openTest(t)

	if err := s.SetOffset("kitchen", 9.0, "test"); err != nil {
		t.Fatalf("SetOffset: %v", err)
	}
	if got := s.Offset("kitchen"); got != control.MaxOffset {
		t.Fatalf("offset = %v, want clamp to %v", got, control.MaxOffset)
	}

	if err := s.SetOffset("kitchen", -9.0, "test"); err != nil {
		t.Fatalf("SetOffset: %v", err)
	}
	if got := s.Offset("kitchen"); got != control.MinOffset {
		t.Fatalf("offset = %v, want clamp to %v", got, control.MinOffset)
	}
}

func TestOffsetHistoryReasonsAndCap(t *testing.T) {
	s, _ := openTest(t)

	for i := 0; i < offsetHistoryCap+20; i++ {
		if err := s.SetOffset("kitchen", float64(i%10)/10.0, "active_learning"); err != nil {
			t.Fatalf("SetOffset: %v", err)
		}
	}
	h := s.OffsetHistory("kitchen")
	if len(h) != offsetHistoryCap {
		t.Fatalf("offset history length = %d, want %d", len(h), offsetHistoryCap)
	}
	if h[len(h)-1].Reason != "active_learning" {
		t.Fatalf("last reason = %q, want active_learning", h[len(h)-1].Reason)
	}
}

func TestHistoryPruning(t *testing.T) {
	s, _ := openTest(t)
	now := time.Now()

	entries := []control.HistoryEntry{
		{Time: now.Add(-8 * 24 * time.Hour), Action: "stale"},
		{Time: now.Add(-time.Hour), Action: "fresh"},
	}
	if err := s.SetHistory("kitchen", entries); err != nil {
		t.Fatalf("SetHistory: %v", err)
	}
	got := s.History("kitchen")
	if len(got) != 1 || got[0].Action != "fresh" {
		t.Fatalf("history = %+v, want only the fresh entry", got)
	}
}

func TestSensorValueRoundtrip(t *testing.T) {
	s, _ := openTest(t)

	if _, ok := s.SensorValue("temp1"); ok {
		t.Fatal("unknown sensor must report ok=false")
	}
	if err := s.SetSensorValue("temp1", "21.5"); err != nil {
		t.Fatalf("SetSensorValue: %v", err)
	}
	if err := s.SetSensorValue("temp1", "21.7"); err != nil {
		t.Fatalf("SetSensorValue update: %v", err)
	}
	if v, ok := s.SensorValue("temp1"); !ok || v != "21.7" {
		t.Fatalf("sensor value = %q ok=%v, want 21.7", v, ok)
	}
}

func TestControllerValueFallback(t *testing.T) {
	s, _ := openTest(t)

	if got := s.ControllerValue("enabled", "true"); got != "true" {
		t.Fatalf("value = %q, want default true", got)
	}
	if err := s.SetControllerValue("enabled", "false"); err != nil {
		t.Fatalf("SetControllerValue: %v", err)
	}
	if got := s.ControllerValue("enabled", "true"); got != "false" {
		t.Fatalf("value = %q, want stored false", got)
	}
}

func TestRemoveDropsAllState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.SetOffset("kitchen", 2.0, "test"); err != nil {
		t.Fatalf("SetOffset: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := s.Remove("kitchen"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if got := s2.Offset("kitchen"); got != 0.0 {
		t.Fatalf("offset = %v, want 0.0 after Remove", got)
	}
}
