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

// Package store persists per-instance learning state in sqlite. Reads are
// served from an in-memory copy; writes are debounced into batched flushes
// with a forced synchronous path for shutdown and removal.
package store

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/antst/sotc/internal/control"
	"github.com/antst/sotc/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS instance_state (
	id  TEXT PRIMARY KEY,
	doc TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS instance_history (
	id  TEXT PRIMARY KEY,
	doc TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sensor_values (
	name  TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS controller_values (
	name  TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const (
	flushDebounce = 2 * time.Second

	maxHistoryAge     = 7 * 24 * time.Hour
	maxHistoryEntries = 1000

	offsetHistoryCap      = 100
	heatingRateHistoryCap = 50
	overshootHistoryCap   = 50

	defaultHeatingRate      = 0.1
	defaultMinutesPerDegree = 15.0
)

// ReasonedSample is one entry of the offset / heating-rate change logs.
type ReasonedSample struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
	Reason    string  `json:"reason,omitempty"`
}

type record struct {
	Offset           float64 `json:"offset"`
	LastOffsetValue  float64 `json:"last_offset_value"`
	LastOffsetChange int64   `json:"last_offset_change,omitempty"`
	TotalChanges     int     `json:"total_changes"`
	HeatingRate      float64 `json:"heating_rate"`
	OvershootCount   int     `json:"overshoot_count"`
	MinutesPerDegree float64 `json:"minutes_per_degree"`

	OffsetHistory      []ReasonedSample `json:"offset_history,omitempty"`
	HeatingRateHistory []ReasonedSample `json:"heating_rate_history,omitempty"`
	OvershootHistory   []ReasonedSample `json:"overshoot_history,omitempty"`
}

func newRecord() *record {
	return &record{
		HeatingRate:      defaultHeatingRate,
		MinutesPerDegree: defaultMinutesPerDegree,
	}
}

// instanceRecord serializes read-modify-write sequences per instance;
// operations on different instances do not block each other.
type instanceRecord struct {
	mu      sync.Mutex
	rec     *record
	history []control.HistoryEntry
}

// Store implements control.Store on sqlite.
type Store struct {
	db *sqlx.DB

	mu         sync.Mutex // guards records map, dirty set, flush timer
	records    map[string]*instanceRecord
	dirty      map[string]bool
	flushTimer *time.Timer

	now func() time.Time
}

// Open opens (creating if needed) the state database and loads all records.
func Open(dbFile string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dbFile)
	if err != nil {
		return nil, errors.Wrapf(err, "open state db %s", dbFile)
	}
	// sqlite: a single writer connection avoids SQLITE_BUSY churn
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, errors.Wrap(err, "create schema")
	}

	s := &Store{
		db:      db,
		records: make(map[string]*instanceRecord),
		dirty:   make(map[string]bool),
		now:     time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	type row struct {
		ID  string `db:"id"`
		Doc string `db:"doc"`
	}

	var states []row
	if err := s.db.Select(&states, `SELECT id, doc FROM instance_state`); err != nil {
		return errors.Wrap(err, "load instance state")
	}
	for _, r := range states {
		rec := newRecord()
		if err := json.Unmarshal([]byte(r.Doc), rec); err != nil {
			logger.L().Errorf("store: corrupt state doc for %q, starting fresh: %v", r.ID, err)
			rec = newRecord()
		}
		pruneRecord(rec, s.now())
		s.records[r.ID] = &instanceRecord{rec: rec}
	}

	var histories []row
	if err := s.db.Select(&histories, `SELECT id, doc FROM instance_history`); err != nil {
		return errors.Wrap(err, "load instance history")
	}
	for _, r := range histories {
		var h []control.HistoryEntry
		if err := json.Unmarshal([]byte(r.Doc), &h); err != nil {
			logger.L().Errorf("store: corrupt history doc for %q, dropping: %v", r.ID, err)
			continue
		}
		s.record(r.ID).history = pruneHistory(h, s.now())
	}

	logger.L().Debugf("store: loaded %d instance record(s)", len(s.records))
	return nil
}

// record returns the instanceRecord for id, creating it if absent.
func (s *Store) record(id string) *instanceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	ir, ok := s.records[id]
	if !ok {
		ir = &instanceRecord{rec: newRecord()}
		s.records[id] = ir
	}
	return ir
}

func (s *Store) Offset(id string) float64 {
	ir := s.record(id)
	ir.mu.Lock()
	defer ir.mu.Unlock()
	return ir.rec.Offset
}

func (s *Store) SetOffset(id string, value float64, reason string) error {
	value = control.Clamp(value, control.MinOffset, control.MaxOffset)
	ir := s.record(id)
	ir.mu.Lock()
	ir.rec.LastOffsetValue = ir.rec.Offset
	ir.rec.Offset = value
	ir.rec.LastOffsetChange = s.now().Unix()
	ir.rec.TotalChanges++
	ir.rec.OffsetHistory = appendCapped(ir.rec.OffsetHistory, ReasonedSample{
		Timestamp: s.now().Unix(), Value: value, Reason: reason,
	}, offsetHistoryCap)
	ir.mu.Unlock()

	s.markDirty(id)
	return nil
}

func (s *Store) HeatingRate(id string) float64 {
	ir := s.record(id)
	ir.mu.Lock()
	defer ir.mu.Unlock()
	return ir.rec.HeatingRate
}

func (s *Store) SetHeatingRate(id string, value float64, reason string) error {
	ir := s.record(id)
	ir.mu.Lock()
	ir.rec.HeatingRate = value
	ir.rec.HeatingRateHistory = appendCapped(ir.rec.HeatingRateHistory, ReasonedSample{
		Timestamp: s.now().Unix(), Value: value, Reason: reason,
	}, heatingRateHistoryCap)
	ir.mu.Unlock()

	s.markDirty(id)
	return nil
}

func (s *Store) OvershootCount(id string) int {
	ir := s.record(id)
	ir.mu.Lock()
	defer ir.mu.Unlock()
	return ir.rec.OvershootCount
}

func (s *Store) SetOvershootCount(id string, count int) error {
	ir := s.record(id)
	ir.mu.Lock()
	ir.rec.OvershootCount = count
	ir.mu.Unlock()

	s.markDirty(id)
	return nil
}

func (s *Store) IncrementOvershootCount(id string) (int, error) {
	ir := s.record(id)
	ir.mu.Lock()
	ir.rec.OvershootCount++
	n := ir.rec.OvershootCount
	ir.rec.OvershootHistory = appendCapped(ir.rec.OvershootHistory, ReasonedSample{
		Timestamp: s.now().Unix(), Value: float64(n), Reason: "overshoot",
	}, overshootHistoryCap)
	ir.mu.Unlock()

	s.markDirty(id)
	return n, nil
}

func (s *Store) MinutesPerDegree(id string) float64 {
	ir := s.record(id)
	ir.mu.Lock()
	defer ir.mu.Unlock()
	return ir.rec.MinutesPerDegree
}

func (s *Store) SetMinutesPerDegree(id string, value float64) error {
	ir := s.record(id)
	ir.mu.Lock()
	ir.rec.MinutesPerDegree = value
	ir.mu.Unlock()

	s.markDirty(id)
	return nil
}

func (s *Store) History(id string) []control.HistoryEntry {
	ir := s.record(id)
	ir.mu.Lock()
	defer ir.mu.Unlock()
	out := make([]control.HistoryEntry, len(ir.history))
	copy(out, ir.history)
	return out
}

func (s *Store) SetHistory(id string, entries []control.HistoryEntry) error {
	pruned := pruneHistory(entries, s.now())
	ir := s.record(id)
	ir.mu.Lock()
	ir.history = pruned
	ir.mu.Unlock()

	s.markDirty(id)
	return nil
}

// OffsetHistory returns a copy of the reasoned offset-change log.
func (s *Store) OffsetHistory(id string) []ReasonedSample {
	ir := s.record(id)
	ir.mu.Lock()
	defer ir.mu.Unlock()
	out := make([]ReasonedSample, len(ir.rec.OffsetHistory))
	copy(out, ir.rec.OffsetHistory)
	return out
}

// LastOffsetChange returns the unix time of the most recent offset write,
// zero when the offset was never written.
func (s *Store) LastOffsetChange(id string) int64 {
	ir := s.record(id)
	ir.mu.Lock()
	defer ir.mu.Unlock()
	return ir.rec.LastOffsetChange
}

// SensorValue returns the cached last-known state of a sensor.
func (s *Store) SensorValue(name string) (string, bool) {
	var v string
	err := s.db.Get(&v, `SELECT value FROM sensor_values WHERE name = ?`, name)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.L().Errorf("store: read sensor value %q: %v", name, err)
		}
		return "", false
	}
	return v, true
}

// SetSensorValue caches a sensor state for warm start. Written through
// immediately; sensor updates are already rate-limited at the source.
func (s *Store) SetSensorValue(name, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO sensor_values(name, value) VALUES(?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, value,
	)
	return errors.Wrapf(err, "upsert sensor value %q", name)
}

// ControllerValue reads a global controller setting, falling back to def.
func (s *Store) ControllerValue(name, def string) string {
	var v string
	err := s.db.Get(&v, `SELECT value FROM controller_values WHERE name = ?`, name)
	if err != nil {
		return def
	}
	return v
}

func (s *Store) SetControllerValue(name, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO controller_values(name, value) VALUES(?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, value,
	)
	return errors.Wrapf(err, "upsert controller value %q", name)
}

// Remove deletes all state for an instance. Synchronous.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	delete(s.records, id)
	delete(s.dirty, id)
	s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM instance_state WHERE id = ?`, id); err != nil {
		return errors.Wrapf(err, "remove state %q", id)
	}
	if _, err := s.db.Exec(`DELETE FROM instance_history WHERE id = ?`, id); err != nil {
		return errors.Wrapf(err, "remove history %q", id)
	}
	return nil
}

// markDirty schedules a debounced flush; writes within the window coalesce.
func (s *Store) markDirty(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty[id] = true
	if s.flushTimer == nil {
		s.flushTimer = time.AfterFunc(flushDebounce, s.flushBackground)
	}
}

func (s *Store) flushBackground() {
	if err := s.Flush(); err != nil {
		logger.L().Errorf("store: background flush failed: %v", err)
	}
}

// Flush writes all dirty records synchronously.
func (s *Store) Flush() error {
	s.mu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	ids := make([]string, 0, len(s.dirty))
	for id := range s.dirty {
		ids = append(ids, id)
	}
	s.dirty = make(map[string]bool)
	recs := make(map[string]*instanceRecord, len(ids))
	for _, id := range ids {
		recs[id] = s.records[id]
	}
	s.mu.Unlock()

	var firstErr error
	for id, ir := range recs {
		if ir == nil {
			continue
		}
		if err := s.flushOne(id, ir); err != nil {
			logger.L().Errorf("store: flush %q: %v", id, err)
			if firstErr == nil {
				firstErr = err
			}
			// keep the record dirty so the delta survives until the
			// next successful flush
			s.markDirty(id)
		}
	}
	return firstErr
}

func (s *Store) flushOne(id string, ir *instanceRecord) error {
	ir.mu.Lock()
	pruneRecord(ir.rec, s.now())
	stateDoc, err := json.Marshal(ir.rec)
	if err != nil {
		ir.mu.Unlock()
		return errors.Wrap(err, "marshal state")
	}
	histDoc, err := json.Marshal(ir.history)
	if err != nil {
		ir.mu.Unlock()
		return errors.Wrap(err, "marshal history")
	}
	ir.mu.Unlock()

	if _, err := s.db.Exec(
		`INSERT INTO instance_state(id, doc) VALUES(?, ?)
		 ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`, id, string(stateDoc),
	); err != nil {
		return errors.Wrap(err, "write state")
	}
	if _, err := s.db.Exec(
		`INSERT INTO instance_history(id, doc) VALUES(?, ?)
		 ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`, id, string(histDoc),
	); err != nil {
		return errors.Wrap(err, "write history")
	}
	return nil
}

// Close performs a final forced flush and closes the database.
func (s *Store) Close() error {
	ferr := s.Flush()
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "close state db")
	}
	return ferr
}

func appendCapped(log []ReasonedSample, sample ReasonedSample, limit int) []ReasonedSample {
	log = append(log, sample)
	if len(log) > limit {
		log = log[len(log)-limit:]
	}
	return log
}

func pruneRecord(rec *record, now time.Time) {
	cutoff := now.Add(-maxHistoryAge).Unix()
	rec.OffsetHistory = pruneSamples(rec.OffsetHistory, cutoff, offsetHistoryCap)
	rec.HeatingRateHistory = pruneSamples(rec.HeatingRateHistory, cutoff, heatingRateHistoryCap)
	rec.OvershootHistory = pruneSamples(rec.OvershootHistory, cutoff, overshootHistoryCap)
}

func pruneSamples(log []ReasonedSample, cutoff int64, limit int) []ReasonedSample {
	out := log[:0]
	for _, e := range log {
		if e.Timestamp >= cutoff {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func pruneHistory(h []control.HistoryEntry, now time.Time) []control.HistoryEntry {
	cutoff := now.Add(-maxHistoryAge)
	out := make([]control.HistoryEntry, 0, len(h))
	for _, e := range h {
		if !e.Time.Before(cutoff) {
			out = append(out, e)
		}
	}
	if len(out) > maxHistoryEntries {
		out = out[len(out)-maxHistoryEntries:]
	}
	return out
}
