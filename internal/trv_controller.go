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
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/antst/sotc/internal/config"
	"github.com/antst/sotc/internal/control"
	"github.com/antst/sotc/internal/logger"
	"github.com/antst/sotc/internal/safe_mqtt"
)

const publishTimeout = 5 * time.Second

// TRVController drives a single TRV over MQTT and tracks its availability
// topic when one is configured. It implements control.Actuator.
type TRVController struct {
	name   string
	cfg    *config.ClimateConfig
	client safe_mqtt.MqttClient

	mu        sync.RWMutex
	available bool
}

func NewTRVController(name string, cfg *config.ClimateConfig, client safe_mqtt.MqttClient) *TRVController {
	t := &TRVController{name: name, cfg: cfg, client: client, available: true}

	if cfg.AvailabilityTopic != "" {
		t.available = false
		client.SafeSubscribe(cfg.AvailabilityTopic, mqttQoS, t.onAvailability)
	}
	return t
}

func (t *TRVController) onAvailability(client mqtt.Client, message mqtt.Message) {
	online := control.TruthyState(string(message.Payload())) || string(message.Payload()) == "online"

	t.mu.Lock()
	changed := t.available != online
	t.available = online
	t.mu.Unlock()

	if changed {
		logger.L().Infof("trv %s: availability change: online=%v", t.name, online)
	}
}

// Available reports the last known availability state. TRVs without an
// availability topic are always considered reachable.
func (t *TRVController) Available() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.available
}

func (t *TRVController) SetSetpoint(temp float64) error {
	token := t.client.SafePublish(t.cfg.SetpointTopic, mqttQoS, true, fmt.Sprintf("%.1f", temp))
	if !token.WaitTimeout(publishTimeout) {
		return errors.Errorf("trv %s: setpoint publish timed out", t.name)
	}
	return errors.Wrapf(token.Error(), "trv %s: setpoint publish", t.name)
}

func (t *TRVController) SetMode(mode control.HVACMode) error {
	if t.cfg.ModeTopic == "" {
		return nil
	}
	payload := *t.cfg.HeatPayload
	if mode == control.ModeOff {
		payload = *t.cfg.OffPayload
	}
	token := t.client.SafePublish(t.cfg.ModeTopic, mqttQoS, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.Errorf("trv %s: mode publish timed out", t.name)
	}
	return errors.Wrapf(token.Error(), "trv %s: mode publish", t.name)
}

func (t *TRVController) Stop() {
	if t.cfg.AvailabilityTopic != "" {
		t.client.SafeUnsubscribe(t.cfg.AvailabilityTopic)
	}
}
