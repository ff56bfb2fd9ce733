package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

type Config struct {
	MQTT         MQTTConfig         `mapstructure:"mqtt"`
	Integrator   IntegratorConfig   `mapstructure:"integrator"`
	Device       DeviceConfig       `mapstructure:"device"`
	Sources      SourcesConfig      `mapstructure:"sources"`
	Availability AvailabilityConfig `mapstructure:"availability"`
	LogLevel     string             `mapstructure:"log_level"`
}

type MQTTConfig struct {
	Broker          string `mapstructure:"broker"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	ClientID        string `mapstructure:"client_id"`
	BaseTopic       string `mapstructure:"base_topic"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
}

type IntegratorConfig struct {
	MaxGapMinutes int `mapstructure:"max_gap_minutes"`
	Precision     int `mapstructure:"precision"`
}

type DeviceConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

type SourcesConfig struct {
	MQTT     []MQTTSource   `mapstructure:"mqtt"`
	Modbus   ModbusSource   `mapstructure:"modbus"`
	Teleinfo TeleinfoSource `mapstructure:"teleinfo"`
}

type MQTTSource struct {
	Entity string `mapstructure:"entity"`
	Topic  string `mapstructure:"topic"`
}

type ModbusSource struct {
	Enabled             bool             `mapstructure:"enabled"`
	Host                string           `mapstructure:"host"`
	Port                int              `mapstructure:"port"`
	SlaveID             int              `mapstructure:"slave_id"`
	TimeoutSeconds      int              `mapstructure:"timeout_seconds"`
	PollIntervalSeconds int              `mapstructure:"poll_interval_seconds"`
	Registers           []ModbusRegister `mapstructure:"registers"`
}

type ModbusRegister struct {
	Entity   string  `mapstructure:"entity"`
	Address  uint16  `mapstructure:"address"`
	DataType string  `mapstructure:"data_type"`
	Gain     float64 `mapstructure:"gain"`
}

type TeleinfoSource struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    string `mapstructure:"port"`
	Baud    int    `mapstructure:"baud"`
	Entity  string `mapstructure:"entity"`
}

type AvailabilityConfig struct {
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetDefault("mqtt.client_id", "power2energy")
	viper.SetDefault("mqtt.base_topic", "power2energy")
	viper.SetDefault("mqtt.discovery_prefix", "homeassistant")
	viper.SetDefault("integrator.max_gap_minutes", 0)
	viper.SetDefault("integrator.precision", 3)
	viper.SetDefault("device.id", "power2energy")
	viper.SetDefault("device.name", "Power2Energy")
	viper.SetDefault("sources.modbus.port", 502)
	viper.SetDefault("sources.modbus.slave_id", 1)
	viper.SetDefault("sources.modbus.timeout_seconds", 5)
	viper.SetDefault("sources.modbus.poll_interval_seconds", 10)
	viper.SetDefault("sources.teleinfo.baud", 9600)
	viper.SetDefault("sources.teleinfo.entity", "teleinfo")
	viper.SetDefault("availability.timeout_minutes", 5)
	viper.SetDefault("log_level", "info")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.MQTT.Broker == "" {
		config.MQTT.Broker = os.Getenv("MQTT_BROKER")
	}
	if config.MQTT.Username == "" {
		config.MQTT.Username = os.Getenv("MQTT_USERNAME")
	}
	if config.MQTT.Password == "" {
		config.MQTT.Password = os.Getenv("MQTT_PASSWORD")
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	seen := make(map[string]bool)
	add := func(entity string) error {
		if entity == "" {
			return fmt.Errorf("source with empty entity name")
		}
		if seen[entity] {
			return fmt.Errorf("duplicate entity name %q", entity)
		}
		seen[entity] = true
		return nil
	}

	for _, s := range c.Sources.MQTT {
		if s.Topic == "" {
			return fmt.Errorf("mqtt source %q has no topic", s.Entity)
		}
		if err := add(s.Entity); err != nil {
			return err
		}
	}
	if c.Sources.Modbus.Enabled {
		if c.Sources.Modbus.Host == "" {
			return fmt.Errorf("modbus source enabled but no host configured")
		}
		for _, r := range c.Sources.Modbus.Registers {
			if err := add(r.Entity); err != nil {
				return err
			}
		}
	}
	if c.Sources.Teleinfo.Enabled {
		if c.Sources.Teleinfo.Port == "" {
			return fmt.Errorf("teleinfo source enabled but no serial port configured")
		}
		if err := add(c.Sources.Teleinfo.Entity); err != nil {
			return err
		}
	}

	if len(seen) == 0 {
		return fmt.Errorf("no power sources configured")
	}
	return nil
}

// Entities returns every configured entity name, in config order.
func (c *Config) Entities() []string {
	var entities []string
	for _, s := range c.Sources.MQTT {
		entities = append(entities, s.Entity)
	}
	if c.Sources.Modbus.Enabled {
		for _, r := range c.Sources.Modbus.Registers {
			entities = append(entities, r.Entity)
		}
	}
	if c.Sources.Teleinfo.Enabled {
		entities = append(entities, c.Sources.Teleinfo.Entity)
	}
	return entities
}
