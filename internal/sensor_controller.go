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

package internal

import (
	"strconv"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/antst/sotc/internal/config"
	"github.com/antst/sotc/internal/logger"
	"github.com/antst/sotc/internal/safe_mqtt"
	"github.com/antst/sotc/internal/store"
)

// TemperatureSensor tracks a single MQTT temperature topic. The last seen
// value is cached in the store, so a freshly restarted process has a
// plausible reading before the sensor publishes again.
type TemperatureSensor struct {
	cfg    *config.SensorConfig
	client safe_mqtt.MqttClient
	db     *store.Store

	mu       sync.RWMutex
	value    float64
	hasValue bool

	notify func()
}

func NewTemperatureSensor(cfg *config.SensorConfig, client safe_mqtt.MqttClient, db *store.Store, notify func()) *TemperatureSensor {
	s := &TemperatureSensor{cfg: cfg, client: client, db: db, notify: notify}

	if raw, ok := db.SensorValue(cfg.Name); ok {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			s.value = v
			s.hasValue = true
		}
	}

	client.SafeSubscribe(cfg.Topic, mqttQoS, s.onMessage)
	return s
}

func (s *TemperatureSensor) onMessage(client mqtt.Client, message mqtt.Message) {
	v, err := extractF64PlainOrJson(message, s.cfg.JSONEntry)
	if err != nil {
		logger.L().Warnf("sensor %s: bad payload: %v", s.cfg.Name, err)
		return
	}
	v = v*(*s.cfg.Scale) + *s.cfg.Offset

	s.mu.Lock()
	changed := !s.hasValue || s.value != v
	s.value = v
	s.hasValue = true
	s.mu.Unlock()

	if err := s.db.SetSensorValue(s.cfg.Name, strconv.FormatFloat(v, 'f', -1, 64)); err != nil {
		logger.L().Warnf("sensor %s: cache value: %v", s.cfg.Name, err)
	}

	if changed && s.notify != nil {
		s.notify()
	}
}

// State returns the current reading formatted for the control layer.
func (s *TemperatureSensor) State() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasValue {
		return "", false
	}
	return strconv.FormatFloat(s.value, 'f', -1, 64), true
}

func (s *TemperatureSensor) Stop() {
	s.client.SafeUnsubscribe(s.cfg.Topic)
}

// WindowSensor tracks a binary contact topic. Any payload change wakes the
// owning thermostat immediately instead of waiting for the next interval.
type WindowSensor struct {
	cfg    *config.SensorConfig
	client safe_mqtt.MqttClient
	db     *store.Store

	mu       sync.RWMutex
	state    string
	hasState bool

	notify func()
}

func NewWindowSensor(cfg *config.SensorConfig, client safe_mqtt.MqttClient, db *store.Store, notify func()) *WindowSensor {
	s := &WindowSensor{cfg: cfg, client: client, db: db, notify: notify}

	if raw, ok := db.SensorValue(cfg.Name); ok {
		s.state = raw
		s.hasState = true
	}

	client.SafeSubscribe(cfg.Topic, mqttQoS, s.onMessage)
	return s
}

func (s *WindowSensor) onMessage(client mqtt.Client, message mqtt.Message) {
	raw, err := extractStringPlainOrJson(message, s.cfg.JSONEntry)
	if err != nil {
		logger.L().Warnf("sensor %s: bad payload: %v", s.cfg.Name, err)
		return
	}

	s.mu.Lock()
	changed := !s.hasState || s.state != raw
	s.state = raw
	s.hasState = true
	s.mu.Unlock()

	if err := s.db.SetSensorValue(s.cfg.Name, raw); err != nil {
		logger.L().Warnf("sensor %s: cache value: %v", s.cfg.Name, err)
	}

	if changed && s.notify != nil {
		logger.L().Debugf("sensor %s: window state change: %s", s.cfg.Name, raw)
		s.notify()
	}
}

func (s *WindowSensor) State() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasState {
		return "", false
	}
	return s.state, true
}

func (s *WindowSensor) Stop() {
	s.client.SafeUnsubscribe(s.cfg.Topic)
}
