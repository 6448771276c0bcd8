// internal/firmata/firmata_test.go
package firmata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func firmwareFrame(major, minor byte, name string) []byte {
	out := []byte{startSysex, sysexReportFirmware, major, minor}
	for i := 0; i < len(name); i++ {
		out = append(out, name[i]&0x7F, name[i]>>7)
	}
	return append(out, endSysex)
}

func TestParser_VersionAndFirmware(t *testing.T) {
	var p Parser

	in := append([]byte{protocolVersion, 2, 5}, firmwareFrame(2, 5, "StandardFirmata.ino")...)
	msgs := p.Feed(in)

	require.Len(t, msgs, 2)
	assert.Equal(t, ProtocolVersion{Major: 2, Minor: 5}, msgs[0])
	assert.Equal(t, Firmware{Major: 2, Minor: 5, Name: "StandardFirmata.ino"}, msgs[1])
}

func TestParser_SplitAcrossReads(t *testing.T) {
	var p Parser

	frame := firmwareFrame(2, 6, "Blink")
	var got []Message
	for i := 0; i < len(frame); i++ {
		got = append(got, p.Feed(frame[i:i+1])...)
	}

	require.Len(t, got, 1)
	assert.Equal(t, "Blink", got[0].(Firmware).Name)
}

func TestParser_Reports(t *testing.T) {
	var p Parser

	msgs := p.Feed([]byte{
		analogMessage | 2, 0x7F, 0x07, // A2 = 1023
		digitalMessage | 1, 0x05, 0x01, // port 1 = 0b10000101
	})

	require.Len(t, msgs, 2)
	assert.Equal(t, AnalogReport{Pin: 2, Value: 1023}, msgs[0])
	assert.Equal(t, DigitalReport{Port: 1, Mask: 0x85}, msgs[1])
}

func TestParser_ResyncAfterGarbage(t *testing.T) {
	var p Parser

	// truncated analog message followed by a full version reply
	msgs := p.Feed([]byte{0x01, analogMessage, 0x10, protocolVersion, 2, 3})

	require.Len(t, msgs, 1)
	assert.Equal(t, ProtocolVersion{Major: 2, Minor: 3}, msgs[0])
}

func TestParser_UnknownSysex(t *testing.T) {
	var p Parser

	msgs := p.Feed([]byte{startSysex, 0x6C, 0x01, 0x02, endSysex})

	require.Len(t, msgs, 1)
	assert.Equal(t, Sysex{Command: 0x6C, Data: []byte{0x01, 0x02}}, msgs[0])
}

func TestAnalogWrite_ExtendedForHighPins(t *testing.T) {
	assert.Equal(t, []byte{0xE3, 0x7F, 0x01}, AnalogWrite(3, 255))

	ext := AnalogWrite(20, 90)
	assert.Equal(t, startSysex, ext[0])
	assert.Equal(t, sysexExtendedAnalog, ext[1])
	assert.Equal(t, byte(20), ext[2])
	assert.Equal(t, endSysex, ext[len(ext)-1])
}

func TestDigitalWrite(t *testing.T) {
	assert.Equal(t, []byte{0xF5, 13, 1}, DigitalWrite(13, true))
	assert.Equal(t, []byte{0xF5, 2, 0}, DigitalWrite(2, false))
}
