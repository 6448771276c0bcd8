// internal/board/variant.go
package board

import (
	"fmt"
	"sort"
	"strings"
)

// Variant is one concrete board family: pin geometry plus a capability table.
// Tables are built once at init and are read-only afterwards.
type Variant struct {
	Name       string
	Pins       int // digital pin count (analog pins included, as Firmata numbers them)
	AnalogPins int
	LEDPin     int

	actions  map[string]Action
	commands []string
}

// Commands returns the sorted action names of the variant.
func (v Variant) Commands() []string {
	out := make([]string, len(v.commands))
	copy(out, v.commands)
	return out
}

func (v Variant) lookup(action string) (Action, bool) {
	a, ok := v.actions[action]
	return a, ok
}

var (
	Uno      = newVariant("uno", 20, 6, 13, baseActions())
	Nano     = newVariant("nano", 22, 8, 13, baseActions())
	Mega     = newVariant("mega", 70, 16, 13, extendedActions())
	Ethernet = newVariant("ethernet", 40, 8, 2, extendedActions())
)

var variants = map[string]Variant{
	Uno.Name:      Uno,
	Nano.Name:     Nano,
	Mega.Name:     Mega,
	Ethernet.Name: Ethernet,
}

// LookupVariant finds a variant by name (case-insensitive).
func LookupVariant(name string) (Variant, error) {
	v, ok := variants[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
	return v, nil
}

func newVariant(name string, pins, analog, led int, actions map[string]Action) Variant {
	cmds := make([]string, 0, len(actions))
	for k := range actions {
		cmds = append(cmds, k)
	}
	sort.Strings(cmds)

	return Variant{
		Name:       name,
		Pins:       pins,
		AnalogPins: analog,
		LEDPin:     led,
		actions:    actions,
		commands:   cmds,
	}
}

func baseActions() map[string]Action {
	return map[string]Action{
		"SETPINVALUE":    setPinValue,
		"SETPINMODE":     setPinModeAction,
		"SETANALOGVALUE": setAnalogValue,
		"SETSERVOANGLE":  setServoAngle,
		"TOGGLELED":      toggleLED,
		"RESET":          reset,
	}
}

func extendedActions() map[string]Action {
	a := baseActions()
	a["SETSAMPLINGINTERVAL"] = setSamplingInterval
	return a
}
