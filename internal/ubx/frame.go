// Package ubx classifies the mixed NMEA/UBX byte stream coming off a GNSS
// receiver and builds/verifies UBX binary frames.
//
// Frame layout on the wire:
//
//	0xB5 0x62 <class> <id> <lenLSB> <lenMSB> <payload:len> <CK_A> <CK_B>
package ubx

import "encoding/binary"

const (
	Sync1 = 0xB5
	Sync2 = 0x62

	// HeaderLen covers sync, class, id and length.
	HeaderLen = 6
	// Overhead is the header plus the two checksum bytes.
	Overhead = HeaderLen + 2

	// MaxFrame bounds the classifier scratch buffer.
	MaxFrame = 256
)

// Message classes and ids used by the controller.
const (
	ClassACK = 0x05
	IDAck    = 0x01
	IDNak    = 0x00

	ClassCFG = 0x06
	IDCfgCfg = 0x09
	IDRate   = 0x08

	ClassMON = 0x0A
	IDMonVer = 0x04
)

// Checksum computes the 8-bit Fletcher checksum over data, which must start
// at the class byte and end with the last payload byte.
func Checksum(data []byte) (ckA, ckB byte) {
	for _, b := range data {
		ckA += b
		ckB += ckA
	}
	return ckA, ckB
}

// Encode builds a complete frame with checksum.
func Encode(class, id byte, payload []byte) []byte {
	buf := make([]byte, 0, Overhead+len(payload))
	buf = append(buf, Sync1, Sync2, class, id)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)
	ckA, ckB := Checksum(buf[2:])
	return append(buf, ckA, ckB)
}

// Verify reports whether frame is a well-formed frame whose length field and
// checksum match its contents.
func Verify(frame []byte) bool {
	if len(frame) < Overhead || frame[0] != Sync1 || frame[1] != Sync2 {
		return false
	}
	n := int(binary.LittleEndian.Uint16(frame[4:6]))
	if len(frame) != Overhead+n {
		return false
	}
	ckA, ckB := Checksum(frame[2 : len(frame)-2])
	return frame[len(frame)-2] == ckA && frame[len(frame)-1] == ckB
}

// Payload returns the payload slice of a verified frame.
func Payload(frame []byte) []byte {
	if len(frame) < Overhead {
		return nil
	}
	return frame[HeaderLen : len(frame)-2]
}

// factoryResetPayload is CFG-CFG: clear all sections (0xFFFB), save none,
// load all (0xFFFF), device mask BBR|FLASH|EEPROM|SPI.
var factoryResetPayload = []byte{
	0xFF, 0xFB, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
	0xFF, 0xFF, 0x00, 0x00,
	0x17,
}

// FactoryResetFrame returns the 21-byte CFG-CFG factory reset command.
func FactoryResetFrame() []byte {
	return Encode(ClassCFG, IDCfgCfg, factoryResetPayload)
}

// RatePollFrame returns the CFG-RATE poll used to detect u-blox receivers.
func RatePollFrame() []byte {
	return Encode(ClassCFG, IDRate, nil)
}

// AckFrame returns the ACK-ACK (or ACK-NAK when nak is set) a receiver sends
// in response to a command of the given class and id.
func AckFrame(class, id byte, nak bool) []byte {
	msg := byte(IDAck)
	if nak {
		msg = IDNak
	}
	return Encode(ClassACK, msg, []byte{class, id})
}
