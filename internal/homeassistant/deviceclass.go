package homeassistant

import "encoding/json"

type DeviceClass int64

const (
	Energy DeviceClass = iota
	Power
	ApparentPower
	Current
	Voltage
)

func (s DeviceClass) String() string {
	switch s {
	case Energy:
		return "energy"
	case Power:
		return "power"
	case ApparentPower:
		return "apparent_power"
	case Current:
		return "current"
	case Voltage:
		return "voltage"
	}
	return "unknown"
}

func (s DeviceClass) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
