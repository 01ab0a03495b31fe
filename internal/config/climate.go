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

package config

// ClimateConfig describes the MQTT surface of the heated valve/thermostat.
type ClimateConfig struct {
	SetpointTopic     string  `yaml:"setpoint_topic"`
	ModeTopic         string  `yaml:"mode_topic"`
	AvailabilityTopic string  `yaml:"availability_topic,omitempty"`
	HeatPayload       *string `yaml:"heat_payload"`
	OffPayload        *string `yaml:"off_payload"`
}

func (c *ClimateConfig) FillDefaults() {
	if c.HeatPayload == nil {
		c.HeatPayload = GetPTR("heat")
	}
	if c.OffPayload == nil {
		c.OffPayload = GetPTR("off")
	}
}

func NewClimateConfig() *ClimateConfig {
	cfg := &ClimateConfig{}
	cfg.FillDefaults()
	return cfg
}
