// internal/firmata/decode.go
package firmata

// maxSysex bounds a sysex body; a longer one is garbage and is dropped.
const maxSysex = 4096

// Parser is a streaming decoder for device -> host bytes.
// Bytes may arrive split at any point; Feed keeps partial frames.
// Not safe for concurrent use.
type Parser struct {
	cmd     byte
	data    []byte
	need    int
	inSysex bool
	sysex   []byte
}

// Feed consumes raw bytes and returns every message completed by them.
func (p *Parser) Feed(b []byte) []Message {
	var out []Message

	for _, c := range b {
		if p.inSysex {
			if c == endSysex {
				p.inSysex = false
				if m := decodeSysex(p.sysex); m != nil {
					out = append(out, m)
				}
				p.sysex = p.sysex[:0]
				continue
			}
			if c&0x80 != 0 {
				// command byte inside sysex: frame is broken, resync on it
				p.inSysex = false
				p.sysex = p.sysex[:0]
			} else {
				if len(p.sysex) < maxSysex {
					p.sysex = append(p.sysex, c)
				}
				continue
			}
		}

		if c&0x80 != 0 {
			p.startCommand(c)
			continue
		}

		// data byte
		if p.need == 0 {
			continue
		}
		p.data = append(p.data, c)
		if len(p.data) == p.need {
			if m := p.decodeCommand(); m != nil {
				out = append(out, m)
			}
			p.need = 0
			p.data = p.data[:0]
		}
	}

	return out
}

func (p *Parser) startCommand(c byte) {
	p.data = p.data[:0]
	p.need = 0

	switch {
	case c == startSysex:
		p.inSysex = true
		p.sysex = p.sysex[:0]
	case c&0xF0 == digitalMessage, c&0xF0 == analogMessage, c == protocolVersion:
		p.cmd = c
		p.need = 2
	}
}

func (p *Parser) decodeCommand() Message {
	lsb, msb := int(p.data[0]), int(p.data[1])

	switch {
	case p.cmd == protocolVersion:
		return ProtocolVersion{Major: lsb, Minor: msb}
	case p.cmd&0xF0 == digitalMessage:
		return DigitalReport{Port: int(p.cmd & 0x0F), Mask: lsb | msb<<7}
	case p.cmd&0xF0 == analogMessage:
		return AnalogReport{Pin: int(p.cmd & 0x0F), Value: lsb | msb<<7}
	}
	return nil
}

func decodeSysex(body []byte) Message {
	if len(body) == 0 {
		return nil
	}

	cmd, rest := body[0], body[1:]
	switch cmd {
	case sysexReportFirmware:
		if len(rest) < 2 {
			return nil
		}
		return Firmware{
			Major: int(rest[0]),
			Minor: int(rest[1]),
			Name:  decode7bitString(rest[2:]),
		}
	case sysexStringData:
		return StringData{Text: decode7bitString(rest)}
	}

	data := make([]byte, len(rest))
	copy(data, rest)
	return Sysex{Command: cmd, Data: data}
}

// decode7bitString joins LSB/MSB 7-bit pairs into a string.
func decode7bitString(b []byte) string {
	out := make([]byte, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		out = append(out, b[i]|b[i+1]<<7)
	}
	return string(out)
}
