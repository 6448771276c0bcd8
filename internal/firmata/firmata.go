// internal/firmata/firmata.go
package firmata

// Only the subset of Firmata the hub needs.
// Command bytes and sysex ids follow the Firmata 2.x protocol.

const (
	digitalMessage     byte = 0x90 // 0x90..0x9F, port in low nibble
	analogMessage      byte = 0xE0 // 0xE0..0xEF, pin in low nibble
	startSysex         byte = 0xF0
	setPinMode         byte = 0xF4
	setDigitalPinValue byte = 0xF5
	endSysex           byte = 0xF7
	protocolVersion    byte = 0xF9
	systemReset        byte = 0xFF
)

const (
	sysexExtendedAnalog   byte = 0x6F
	sysexStringData       byte = 0x71
	sysexReportFirmware   byte = 0x79
	sysexSamplingInterval byte = 0x7A
)

// PinMode is a Firmata pin mode.
type PinMode byte

const (
	ModeInput  PinMode = 0x00
	ModeOutput PinMode = 0x01
	ModeAnalog PinMode = 0x02
	ModePWM    PinMode = 0x03
	ModeServo  PinMode = 0x04
	ModeI2C    PinMode = 0x06
	ModePullup PinMode = 0x0B
)

// MaxPinMode is the highest mode value accepted by SetPinMode callers.
const MaxPinMode = 0x0F

// MaxAnalogValue is the largest value AnalogWrite can carry (14 bits).
const MaxAnalogValue = 0x3FFF

// ---- messages (device -> host) ----

// Message is one decoded device message.
type Message interface {
	isMessage()
}

// ProtocolVersion is the reply to a REPORT_VERSION query.
type ProtocolVersion struct {
	Major int
	Minor int
}

// Firmware is the reply to a REPORT_FIRMWARE query.
type Firmware struct {
	Major int
	Minor int
	Name  string
}

// DigitalReport carries the state of one 8-pin digital port.
type DigitalReport struct {
	Port int
	Mask int
}

// AnalogReport carries one analog input sample.
type AnalogReport struct {
	Pin   int
	Value int
}

// StringData is a STRING_DATA sysex (usually debug output from the sketch).
type StringData struct {
	Text string
}

// Sysex is any sysex the decoder does not interpret.
type Sysex struct {
	Command byte
	Data    []byte
}

func (ProtocolVersion) isMessage() {}
func (Firmware) isMessage()        {}
func (DigitalReport) isMessage()   {}
func (AnalogReport) isMessage()    {}
func (StringData) isMessage()      {}
func (Sysex) isMessage()           {}
