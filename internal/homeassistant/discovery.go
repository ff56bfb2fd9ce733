package homeassistant

import (
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	StateClassMeasurement     = "measurement"
	StateClassTotalIncreasing = "total_increasing"
)

type Device struct {
	Identifiers []string `json:"identifiers"`
	Name        string   `json:"name"`
}

type ConfigurationItem struct {
	DeviceClass       DeviceClass `json:"device_class"`
	UnitOfMeasurement Unit        `json:"unit_of_measurement,omitempty"`
	Device            Device      `json:"device"`
	StateClass        string      `json:"state_class,omitempty"`
	UniqueId          string      `json:"unique_id"`
	Name              string      `json:"name"`
	StateTopic        string      `json:"state_topic"`
	AvailabilityTopic string      `json:"availability_topic,omitempty"`
}

// EnergySensor describes an accumulated-energy total as an ever-increasing
// kWh counter, the state class Home Assistant expects for the energy
// dashboard.
func EnergySensor(device Device, deviceID, entity, stateTopic, availabilityTopic string) ConfigurationItem {
	return ConfigurationItem{
		DeviceClass:       Energy,
		UnitOfMeasurement: KWh,
		Device:            device,
		StateClass:        StateClassTotalIncreasing,
		UniqueId:          deviceID + "_" + sanitize(entity) + "_energy",
		Name:              entity + " energy",
		StateTopic:        stateTopic,
		AvailabilityTopic: availabilityTopic,
	}
}

// PowerSensor describes the raw instantaneous reading alongside the total.
func PowerSensor(device Device, deviceID, entity, stateTopic, availabilityTopic string) ConfigurationItem {
	return ConfigurationItem{
		DeviceClass:       Power,
		UnitOfMeasurement: W,
		Device:            device,
		StateClass:        StateClassMeasurement,
		UniqueId:          deviceID + "_" + sanitize(entity) + "_power",
		Name:              entity + " power",
		StateTopic:        stateTopic,
		AvailabilityTopic: availabilityTopic,
	}
}

// SendConfigurationToHa publishes retained discovery config for each sensor.
func SendConfigurationToHa(client mqtt.Client, discoveryPrefix string, config []ConfigurationItem) error {
	for _, configItem := range config {
		b, err := json.Marshal(configItem)
		if err != nil {
			return fmt.Errorf("failed to marshal discovery config for %s: %w", configItem.UniqueId, err)
		}
		token := client.Publish(discoveryPrefix+"/sensor/"+configItem.UniqueId+"/config", 0, true, b)
		token.Wait()
		if token.Error() != nil {
			return fmt.Errorf("failed to publish discovery config for %s: %w", configItem.UniqueId, token.Error())
		}
	}
	return nil
}

func sanitize(name string) string {
	return strings.Replace(strings.ToLower(name), " ", "_", -1)
}
