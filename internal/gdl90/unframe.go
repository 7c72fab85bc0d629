package gdl90

import "fmt"

// Unframe reverses Frame: it checks the flag bytes, removes byte stuffing
// and verifies the trailing CRC. msg excludes the CRC.
func Unframe(frame []byte) (msg []byte, crcOK bool, err error) {
	if len(frame) < 4 {
		return nil, false, fmt.Errorf("frame too short: %d", len(frame))
	}
	if frame[0] != flagByte || frame[len(frame)-1] != flagByte {
		return nil, false, fmt.Errorf("missing start/end flags")
	}

	body := frame[1 : len(frame)-1]
	raw := make([]byte, 0, len(body))
	escaped := false
	for _, b := range body {
		switch {
		case escaped:
			raw = append(raw, b^escapeXor)
			escaped = false
		case b == escapeByte:
			escaped = true
		default:
			raw = append(raw, b)
		}
	}
	if escaped {
		return nil, false, fmt.Errorf("truncated escape at end of frame")
	}
	if len(raw) < 3 {
		return nil, false, fmt.Errorf("unescaped payload too short: %d", len(raw))
	}

	msg = raw[:len(raw)-2]
	crcGot := uint16(raw[len(raw)-2]) | uint16(raw[len(raw)-1])<<8
	return msg, crcGot == crc16(msg), nil
}

// Split cuts a datagram holding back-to-back frames into single frames.
func Split(stream []byte) [][]byte {
	var out [][]byte
	start := -1
	for i, b := range stream {
		if b != flagByte {
			continue
		}
		if start >= 0 && i > start+1 {
			out = append(out, stream[start:i+1])
			start = -1
			continue
		}
		start = i
	}
	return out
}
