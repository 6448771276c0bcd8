// internal/board/actions.go
package board

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tamzrod/firmata-hub/internal/firmata"
)

// Action is one capability of a variant.
// Actions validate every parameter before touching the device or board state.
type Action func(b *Board, params []any) error

// ---- actions ----

// SETPINVALUE pin value
func setPinValue(b *Board, params []any) error {
	pin, err := b.pinParam(params, 0)
	if err != nil {
		return err
	}
	v, err := rangeParam(params, 1, "value", 0, 1)
	if err != nil {
		return err
	}

	if err := b.ensureMode(pin, firmata.ModeOutput); err != nil {
		return err
	}
	if err := b.send(firmata.DigitalWrite(pin, v == 1)); err != nil {
		return err
	}
	b.recordPin(digitalKey(pin), v)
	return nil
}

// SETPINMODE pin mode
func setPinModeAction(b *Board, params []any) error {
	pin, err := b.pinParam(params, 0)
	if err != nil {
		return err
	}
	mode, err := rangeParam(params, 1, "mode", 0, firmata.MaxPinMode)
	if err != nil {
		return err
	}

	if err := b.send(firmata.SetPinMode(pin, firmata.PinMode(mode))); err != nil {
		return err
	}
	b.recordMode(pin, firmata.PinMode(mode))
	return nil
}

// SETANALOGVALUE pin value (PWM duty)
func setAnalogValue(b *Board, params []any) error {
	pin, err := b.pinParam(params, 0)
	if err != nil {
		return err
	}
	v, err := rangeParam(params, 1, "value", 0, firmata.MaxAnalogValue)
	if err != nil {
		return err
	}

	if err := b.ensureMode(pin, firmata.ModePWM); err != nil {
		return err
	}
	if err := b.send(firmata.AnalogWrite(pin, v)); err != nil {
		return err
	}
	b.recordPin(digitalKey(pin), v)
	return nil
}

// SETSERVOANGLE pin degrees
func setServoAngle(b *Board, params []any) error {
	pin, err := b.pinParam(params, 0)
	if err != nil {
		return err
	}
	deg, err := rangeParam(params, 1, "angle", 0, 180)
	if err != nil {
		return err
	}

	if err := b.ensureMode(pin, firmata.ModeServo); err != nil {
		return err
	}
	if err := b.send(firmata.AnalogWrite(pin, deg)); err != nil {
		return err
	}
	b.recordPin(digitalKey(pin), deg)
	return nil
}

// TOGGLELED flips the on-board LED.
func toggleLED(b *Board, params []any) error {
	if len(params) != 0 {
		return fmt.Errorf("%w: TOGGLELED takes no parameters", ErrInvalidParameters)
	}

	pin := b.variant.LEDPin
	next := 1 - b.pinValue(digitalKey(pin))

	if err := b.ensureMode(pin, firmata.ModeOutput); err != nil {
		return err
	}
	if err := b.send(firmata.DigitalWrite(pin, next == 1)); err != nil {
		return err
	}
	b.recordPin(digitalKey(pin), next)
	return nil
}

// RESET sends SYSTEM_RESET and forgets pin state.
func reset(b *Board, params []any) error {
	if len(params) != 0 {
		return fmt.Errorf("%w: RESET takes no parameters", ErrInvalidParameters)
	}
	if err := b.send(firmata.SystemReset()); err != nil {
		return err
	}
	b.forgetPins()
	return nil
}

// SETSAMPLINGINTERVAL ms
func setSamplingInterval(b *Board, params []any) error {
	ms, err := rangeParam(params, 0, "interval", 1, 0x3FFF)
	if err != nil {
		return err
	}
	return b.send(firmata.SamplingInterval(ms))
}

// ---- parameter coercion ----

func (b *Board) pinParam(params []any, i int) (int, error) {
	return rangeParam(params, i, "pin", 0, b.variant.Pins-1)
}

func rangeParam(params []any, i int, name string, lo, hi int) (int, error) {
	if i >= len(params) {
		return 0, fmt.Errorf("%w: missing %s (parameter %d)", ErrInvalidParameters, name, i)
	}
	v, err := toInt(params[i])
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidParameters, name, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%w: %s %d out of range %d..%d", ErrInvalidParameters, name, v, lo, hi)
	}
	return v, nil
}

// toInt accepts the primitive shapes a JSON/YAML decoder produces.
func toInt(p any) (int, error) {
	switch v := p.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("not an integer: %v", v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		return int(n), err
	case string:
		return strconv.Atoi(strings.TrimSpace(v))
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported parameter type %T", p)
	}
}

func digitalKey(pin int) string { return "D" + strconv.Itoa(pin) }
func analogKey(pin int) string  { return "A" + strconv.Itoa(pin) }
