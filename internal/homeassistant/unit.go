package homeassistant

import "encoding/json"

type Unit int64

const (
	None Unit = iota
	W
	KWh
	Wh
	V
	A
	VA
)

func (s Unit) String() string {
	switch s {
	case None:
		return "None"
	case W:
		return "W"
	case KWh:
		return "kWh"
	case Wh:
		return "Wh"
	case V:
		return "V"
	case A:
		return "A"
	case VA:
		return "VA"
	}
	return "unknown"
}

func (s Unit) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
