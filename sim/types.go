package sim

import (
	"fmt"
	"strings"
)

// UeID is the stable numeric identity of an attached UE (its RNTI).
type UeID uint16

// ChannelID identifies a logical channel within one UE.
type ChannelID uint8

// Direction selects which scheduling pass a piece of state belongs to.
// Uplink and downlink state never mix: each pass owns its own slice of a UeRecord.
type Direction int

const (
	Uplink Direction = iota
	Downlink

	numDirections
)

// Directions lists both directions in pass order.
var Directions = []Direction{Uplink, Downlink}

func (d Direction) String() string {
	switch d {
	case Uplink:
		return "uplink"
	case Downlink:
		return "downlink"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// validDirections maps accepted direction names, including the short forms used on the CLI.
var validDirections = map[string]Direction{
	"uplink":   Uplink,
	"ul":       Uplink,
	"downlink": Downlink,
	"dl":       Downlink,
}

// ParseDirection converts a direction name ("uplink", "ul", "downlink", "dl") to a Direction.
func ParseDirection(name string) (Direction, error) {
	d, ok := validDirections[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown direction %q", name)
	}
	return d, nil
}

// MarshalText implements encoding.TextMarshaler so directions travel as names in JSON and YAML.
func (d Direction) MarshalText() ([]byte, error) {
	if d != Uplink && d != Downlink {
		return nil, fmt.Errorf("invalid direction %d", int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func checkDirection(d Direction) {
	if d != Uplink && d != Downlink {
		panic(fmt.Sprintf("invalid direction %d", int(d)))
	}
}
