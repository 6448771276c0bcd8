// internal/firmata/encode.go
package firmata

// Encoders are pure: they build one host -> device frame.
// Range checks belong to the caller.

// ReportVersion builds the REPORT_VERSION query.
// It is also the heartbeat probe: every Firmata sketch answers it.
func ReportVersion() []byte {
	return []byte{protocolVersion}
}

// ReportFirmware builds the REPORT_FIRMWARE sysex query.
func ReportFirmware() []byte {
	return []byte{startSysex, sysexReportFirmware, endSysex}
}

// SetPinMode builds a SET_PIN_MODE frame.
func SetPinMode(pin int, mode PinMode) []byte {
	return []byte{setPinMode, byte(pin) & 0x7F, byte(mode) & 0x7F}
}

// DigitalWrite builds a SET_DIGITAL_PIN_VALUE frame.
func DigitalWrite(pin int, high bool) []byte {
	var v byte
	if high {
		v = 1
	}
	return []byte{setDigitalPinValue, byte(pin) & 0x7F, v}
}

// AnalogWrite builds a PWM/servo write.
// Pins above 15 need the EXTENDED_ANALOG sysex.
func AnalogWrite(pin, value int) []byte {
	if pin <= 0x0F && value <= MaxAnalogValue {
		return []byte{analogMessage | byte(pin), byte(value) & 0x7F, byte(value>>7) & 0x7F}
	}

	out := []byte{startSysex, sysexExtendedAnalog, byte(pin) & 0x7F}
	for v := value; ; v >>= 7 {
		out = append(out, byte(v)&0x7F)
		if v>>7 == 0 {
			break
		}
	}
	return append(out, endSysex)
}

// SamplingInterval builds the SAMPLING_INTERVAL sysex.
func SamplingInterval(ms int) []byte {
	return []byte{startSysex, sysexSamplingInterval, byte(ms) & 0x7F, byte(ms>>7) & 0x7F, endSysex}
}

// SystemReset builds the SYSTEM_RESET frame.
func SystemReset() []byte {
	return []byte{systemReset}
}
