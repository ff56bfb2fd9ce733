package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Sources: SourcesConfig{
			MQTT: []MQTTSource{{Entity: "grid", Topic: "powerinfo/grid"}},
			Modbus: ModbusSource{
				Enabled: true,
				Host:    "192.168.0.30",
				Registers: []ModbusRegister{
					{Entity: "pv", Address: 97, DataType: "i32", Gain: 10},
				},
			},
			Teleinfo: TeleinfoSource{
				Enabled: true,
				Port:    "/dev/ttyUSB0",
				Baud:    9600,
				Entity:  "teleinfo",
			},
		},
	}
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, validConfig().validate())
}

func TestValidate_NoSources(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.validate())
}

func TestValidate_DuplicateEntity(t *testing.T) {
	cfg := validConfig()
	cfg.Sources.Modbus.Registers[0].Entity = "grid"
	assert.Error(t, cfg.validate())
}

func TestValidate_MQTTSourceWithoutTopic(t *testing.T) {
	cfg := validConfig()
	cfg.Sources.MQTT[0].Topic = ""
	assert.Error(t, cfg.validate())
}

func TestValidate_ModbusWithoutHost(t *testing.T) {
	cfg := validConfig()
	cfg.Sources.Modbus.Host = ""
	assert.Error(t, cfg.validate())
}

func TestValidate_TeleinfoWithoutPort(t *testing.T) {
	cfg := validConfig()
	cfg.Sources.Teleinfo.Port = ""
	assert.Error(t, cfg.validate())
}

func TestEntities_ConfigOrder(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, []string{"grid", "pv", "teleinfo"}, cfg.Entities())

	cfg.Sources.Modbus.Enabled = false
	cfg.Sources.Teleinfo.Enabled = false
	assert.Equal(t, []string{"grid"}, cfg.Entities())
}
