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
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/antst/sotc/internal/config"
	"github.com/antst/sotc/internal/control"
	"github.com/antst/sotc/internal/logger"
	"github.com/antst/sotc/internal/safe_mqtt"
	"github.com/antst/sotc/internal/store"
)

// wakeDebounce coalesces bursts of sensor updates into one recompute.
const wakeDebounce = 50 * time.Millisecond

// ThermostatController wires one control.Controller to its MQTT world:
// sensors in, TRV commands out, command topics and a retained status topic
// under <control_topic>/<name>/.
type ThermostatController struct {
	name   string
	cfg    *config.ThermostatConfig
	client safe_mqtt.MqttClient
	db     *store.Store

	ctrl *control.Controller
	trv  *TRVController

	roomSensors   []*TemperatureSensor
	windowSensors []*WindowSensor
	sensorsByName map[string]interface{ State() (string, bool) }

	topicPrefix string // <control_topic>/<name>

	wakeChan chan bool // payload: force
	stopChan chan struct{}
	doneChan chan struct{}

	mu         sync.Mutex
	enabled    bool
	boostTimer *time.Timer
}

func NewThermostatController(
	name string,
	cfg *config.ThermostatConfig,
	controlTopic string,
	client safe_mqtt.MqttClient,
	db *store.Store,
) *ThermostatController {
	t := &ThermostatController{
		name:          name,
		cfg:           cfg,
		client:        client,
		db:            db,
		sensorsByName: make(map[string]interface{ State() (string, bool) }),
		topicPrefix:   controlTopic + "/" + name,
		wakeChan:      make(chan bool, 8),
		stopChan:      make(chan struct{}),
		doneChan:      make(chan struct{}),
		enabled:       true,
	}

	t.trv = NewTRVController(name, cfg.Climate, client)

	inputs := control.InputConfig{DeviceID: name}
	for _, sc := range cfg.RoomSensors {
		s := NewTemperatureSensor(sc, client, db, func() { t.wake(false) })
		t.roomSensors = append(t.roomSensors, s)
		t.sensorsByName[sc.Name] = s
		inputs.RoomSensors = append(inputs.RoomSensors, sc.Name)
	}
	for _, sc := range cfg.WindowSensors {
		// window changes force past the cooldown
		s := NewWindowSensor(sc, client, db, func() { t.wake(true) })
		t.windowSensors = append(t.windowSensors, s)
		t.sensorsByName[sc.Name] = s
		inputs.WindowSensors = append(inputs.WindowSensors, sc.Name)
	}

	t.ctrl = control.NewController(name, cfg.Params(), control.Deps{
		Store:    db,
		Actuator: t.trv,
		Source:   t,
		Inputs:   inputs,
		Notify:   t.publishStatus,
	})

	return t
}

// ReadState and DeviceAvailable make the ThermostatController the state
// source of its own control loop.
func (t *ThermostatController) ReadState(id string) (string, bool) {
	s, ok := t.sensorsByName[id]
	if !ok {
		return "", false
	}
	return s.State()
}

func (t *ThermostatController) DeviceAvailable(id string) bool {
	return t.trv.Available()
}

func (t *ThermostatController) Start() {
	t.subscribeCommands()
	go t.run()
	logger.L().Infof("thermostat %s: started (interval %v)", t.name, t.ctrl.Interval())
}

func (t *ThermostatController) run() {
	defer close(t.doneChan)

	// a disabled instance still hydrates its learning state, but must
	// not touch the TRV until it is re-enabled
	if t.isEnabled() {
		t.ctrl.Start()
	} else {
		t.ctrl.Hydrate()
	}

	debounce := time.NewTimer(wakeDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	ticker := time.NewTicker(t.ctrl.Interval())
	defer ticker.Stop()

	pendingForce := false
	for {
		select {
		case force := <-t.wakeChan:
			if force {
				pendingForce = true
			}
			debounce.Reset(wakeDebounce)
		case <-debounce.C:
			if t.isEnabled() {
				t.ctrl.TriggerOnce(pendingForce)
			}
			pendingForce = false
		case <-ticker.C:
			if t.isEnabled() {
				t.ctrl.Tick()
			}
		case <-t.stopChan:
			return
		}
	}
}

// wake schedules an out-of-band recompute; never blocks the MQTT handler.
func (t *ThermostatController) wake(force bool) {
	select {
	case t.wakeChan <- force:
	default:
	}
}

func (t *ThermostatController) isEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetEnabled pauses or resumes the control loop. A resume recomputes
// immediately; a pause leaves the TRV wherever it was.
func (t *ThermostatController) SetEnabled(enabled bool) {
	t.mu.Lock()
	was := t.enabled
	t.enabled = enabled
	t.mu.Unlock()

	if enabled && !was {
		t.wake(true)
	}
	if enabled != was {
		logger.L().Infof("thermostat %s: enabled=%v", t.name, enabled)
	}
}

func (t *ThermostatController) subscribeCommands() {
	t.client.SafeSubscribe(t.topicPrefix+"/reset_offset", mqttQoS, func(c mqtt.Client, m mqtt.Message) {
		logger.L().Infof("thermostat %s: reset_offset command", t.name)
		t.ctrl.ResetOffset()
	})
	t.client.SafeSubscribe(t.topicPrefix+"/boost", mqttQoS, t.onBoostCommand)
	t.client.SafeSubscribe(t.topicPrefix+"/target", mqttQoS, t.onTargetCommand)
	t.client.SafeSubscribe(t.topicPrefix+"/mode", mqttQoS, t.onModeCommand)
	t.client.SafeSubscribe(t.topicPrefix+"/force", mqttQoS, func(c mqtt.Client, m mqtt.Message) {
		t.wake(true)
	})
}

// onBoostCommand starts a boost ("on", "" or a duration in seconds) or
// cancels one ("off", "cancel", "0"). Each start re-arms the expiry timer.
func (t *ThermostatController) onBoostCommand(client mqtt.Client, message mqtt.Message) {
	payload := strings.ToLower(strings.TrimSpace(string(message.Payload())))

	switch payload {
	case "off", "cancel", "0", "false":
		t.stopBoostTimer()
		t.ctrl.CancelBoost()
		logger.L().Infof("thermostat %s: boost cancelled", t.name)
		return
	}

	var duration time.Duration
	if payload != "" && payload != "on" && payload != "true" && payload != "1" {
		secs, err := strconv.Atoi(payload)
		if err != nil {
			logger.L().Warnf("thermostat %s: bad boost payload %q", t.name, payload)
			return
		}
		duration = time.Duration(secs) * time.Second
	}

	used := t.ctrl.StartBoost(duration)

	t.mu.Lock()
	if t.boostTimer != nil {
		t.boostTimer.Stop()
	}
	t.boostTimer = time.AfterFunc(used, t.ctrl.CancelBoost)
	t.mu.Unlock()

	logger.L().Infof("thermostat %s: boost for %v", t.name, used)
}

func (t *ThermostatController) stopBoostTimer() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.boostTimer != nil {
		t.boostTimer.Stop()
		t.boostTimer = nil
	}
}

func (t *ThermostatController) onTargetCommand(client mqtt.Client, message mqtt.Message) {
	raw := strings.TrimSpace(string(message.Payload()))
	v, ok := control.ParseTemperature(raw)
	if !ok {
		logger.L().Warnf("thermostat %s: bad target payload %q", t.name, raw)
		return
	}
	logger.L().Infof("thermostat %s: target -> %.1f", t.name, v)
	t.ctrl.SetTarget(v)
}

func (t *ThermostatController) onModeCommand(client mqtt.Client, message mqtt.Message) {
	raw := strings.ToLower(strings.TrimSpace(string(message.Payload())))
	mode := control.HVACMode(raw)
	if mode == control.ModeOff {
		// off cancels any boost, so the expiry timer must not fire later
		t.stopBoostTimer()
	}
	t.ctrl.SetHVACMode(mode)
}

// publishStatus emits the retained per-instance status document after every
// tick, so late subscribers always see the current state.
func (t *ThermostatController) publishStatus(st control.Status) {
	payload, err := json.Marshal(st)
	if err != nil {
		logger.L().Errorf("thermostat %s: marshal status: %v", t.name, err)
		return
	}
	t.client.SafePublish(t.topicPrefix+"/status", mqttQoS, true, payload)
}

func (t *ThermostatController) Stop() {
	t.client.SafeUnsubscribe(
		t.topicPrefix+"/reset_offset",
		t.topicPrefix+"/boost",
		t.topicPrefix+"/target",
		t.topicPrefix+"/mode",
		t.topicPrefix+"/force",
	)
	t.stopBoostTimer()

	close(t.stopChan)
	<-t.doneChan

	for _, s := range t.roomSensors {
		s.Stop()
	}
	for _, s := range t.windowSensors {
		s.Stop()
	}
	t.trv.Stop()

	t.ctrl.Shutdown()
	logger.L().Infof("thermostat %s: stopped", t.name)
}
