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
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"

	"github.com/antst/sotc/internal/config"
	"github.com/antst/sotc/internal/control"
	"github.com/antst/sotc/internal/logger"
	"github.com/antst/sotc/internal/safe_mqtt"
	"github.com/antst/sotc/internal/store"
)

// Supervisor owns the shared MQTT connection and store and runs one
// ThermostatController per configured instance.
type Supervisor struct {
	cfg    *config.Config
	client safe_mqtt.MqttClient
	db     *store.Store

	thermostats map[string]*ThermostatController
}

func NewSupervisor(cfg *config.Config) (*Supervisor, error) {
	db, err := store.Open(cfg.DBFile)
	if err != nil {
		return nil, errors.Wrapf(err, "open store %q", cfg.DBFile)
	}

	client := safe_mqtt.InitMQTTClient(
		cfg.MQTTConfig.URL,
		"sotc-"+uuid.NewString(),
	)

	s := &Supervisor{
		cfg:         cfg,
		client:      client,
		db:          db,
		thermostats: make(map[string]*ThermostatController),
	}

	for name, tc := range cfg.Thermostats {
		s.thermostats[name] = NewThermostatController(
			name, tc, cfg.MQTTConfig.ControlTopic, client, db,
		)
	}

	return s, nil
}

// Run starts all instances and the global command topics, then publishes
// the retained liveness marker.
func (s *Supervisor) Run() {
	enabled := s.db.ControllerValue("enabled", "true") == "true"

	for _, t := range s.thermostats {
		// apply the persisted flag before the run loop so a disabled
		// instance never issues its startup actuation
		t.SetEnabled(enabled)
		t.Start()
	}

	ct := s.cfg.MQTTConfig.ControlTopic
	s.client.SafeSubscribe(ct+"/log_level", mqttQoS, s.onLogLevel)
	s.client.SafeSubscribe(ct+"/enable", mqttQoS, s.onEnable)

	s.client.SafePublish(ct+"/active", mqttQoS, true, "true")
	logger.L().Infof("supervisor: running %d thermostat(s), enabled=%v", len(s.thermostats), enabled)
}

func (s *Supervisor) onLogLevel(client mqtt.Client, message mqtt.Message) {
	raw := strings.ToLower(strings.TrimSpace(string(message.Payload())))
	var level zapcore.Level
	if err := level.Set(raw); err != nil {
		logger.L().Warnf("supervisor: wrong log level `%v`: %v", raw, err)
		return
	}
	logger.SetLogLevel(level)
	logger.L().Infof("supervisor: log level -> %v", level)
}

// onEnable flips all instances at once; the choice survives restarts.
func (s *Supervisor) onEnable(client mqtt.Client, message mqtt.Message) {
	enabled := control.TruthyState(string(message.Payload()))

	if err := s.db.SetControllerValue("enabled", boolString(enabled)); err != nil {
		logger.L().Errorf("supervisor: persist enabled: %v", err)
	}
	for _, t := range s.thermostats {
		t.SetEnabled(enabled)
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (s *Supervisor) Stop() {
	ct := s.cfg.MQTTConfig.ControlTopic
	s.client.SafeUnsubscribe(ct+"/log_level", ct+"/enable")
	s.client.SafePublish(ct+"/active", mqttQoS, true, "false")

	for _, t := range s.thermostats {
		t.Stop()
	}

	if err := s.db.Close(); err != nil {
		logger.L().Errorf("supervisor: close store: %v", err)
	}
	s.client.Disconnect()
	logger.L().Info("supervisor: stopped")
}
