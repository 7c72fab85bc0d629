package gdl90

import (
	"math"
	"strings"
	"time"

	"gnssctl/internal/fix"
)

const (
	latLonResolution = 180.0 / 8388608.0 // degrees per LSB for signed 24-bit
	trackResolution  = 360.0 / 256.0

	feetPerMeter = 3.28084
	kmhPerKnot   = 1.852

	// onGroundKt is the speed below which ownship is reported on the ground.
	onGroundKt = 10
)

type Ownship struct {
	ICAO        [3]byte
	LatDeg      float64
	LonDeg      float64
	AltFeet     int
	HAEFeet     int
	HaveNICNACp bool
	NIC         byte // 0-15 (high nibble in msg[13])
	NACp        byte // 0-15 (low nibble in msg[13])
	GroundKt    int
	TrackDeg    float64
	OnGround    bool
	VvelFpm     int
	VvelValid   bool
	Callsign    string
	Emitter     byte // e.g. 0x01 "Light"
	Emergency   byte // upper nibble of msg[27]
}

// FromFix converts a decoded fix. Horizontal accuracy is estimated as four
// times HDOP in meters.
func FromFix(r fix.Record, callsign string) Ownship {
	kt := int(math.Round(float64(r.GroundSpeed) / kmhPerKnot))
	hdop := float64(r.HDOP) / 100
	return Ownship{
		LatDeg:      float64(r.LatitudeI) / 1e7,
		LonDeg:      float64(r.LongitudeI) / 1e7,
		AltFeet:     int(math.Round(float64(r.Altitude) * feetPerMeter)),
		HAEFeet:     int(math.Round(float64(r.AltitudeHAE) * feetPerMeter)),
		HaveNICNACp: true,
		NIC:         8,
		NACp:        NACpFromHorizontalAccuracyMeters(hdop * 4),
		GroundKt:    kt,
		TrackDeg:    float64(r.GroundTrack) / 1e5,
		OnGround:    kt < onGroundKt,
		Callsign:    callsign,
	}
}

// OwnshipReportFrame builds and frames an Ownship Report (0x0A). Fields not
// modeled are encoded as unknown.
func OwnshipReportFrame(o Ownship) []byte {
	msg := make([]byte, 28)
	msg[0] = 0x0A

	// Upper nibble: alert status. Lower nibble: address type (0 = ICAO).
	msg[1] = 0x00

	msg[2] = o.ICAO[0]
	msg[3] = o.ICAO[1]
	msg[4] = o.ICAO[2]

	lat := encodeLatLon24(o.LatDeg)
	msg[5], msg[6], msg[7] = lat[0], lat[1], lat[2]

	lon := encodeLatLon24(o.LonDeg)
	msg[8], msg[9], msg[10] = lon[0], lon[1], lon[2]

	alt := encodeAltitude12(o.AltFeet)
	msg[11] = byte((alt >> 4) & 0xFF)
	msg[12] = byte((alt & 0x0F) << 4)

	// Misc nibble: bit0 true track valid, bit3 airborne.
	msg[12] |= 0x01
	if !o.OnGround {
		msg[12] |= 0x08
	}

	// High nibble NIC, low nibble NACp.
	if o.HaveNICNACp {
		msg[13] = ((o.NIC & 0x0F) << 4) | (o.NACp & 0x0F)
	} else {
		msg[13] = 0x80 | 0x08
	}

	// Ground speed, 12 bits at 1 kt.
	gs := encodeU12(o.GroundKt)
	msg[14] = byte((gs & 0xFF0) >> 4)
	msg[15] = byte((gs & 0x00F) << 4)

	// Vertical velocity, 12-bit signed at 64 fpm. 0x800 = unknown.
	vvel := uint16(0x800)
	if o.VvelValid {
		vv := int16(math.Round(float64(o.VvelFpm) / 64.0))
		vvel = uint16(vv) & 0x0FFF
	}
	msg[15] |= byte((vvel & 0x0F00) >> 8)
	msg[16] = byte(vvel & 0x00FF)

	msg[17] = encodeTrack8(o.TrackDeg)

	emitter := o.Emitter
	if emitter == 0 {
		emitter = 0x01
	}
	msg[18] = emitter

	copy(msg[19:27], []byte(sanitizeCallsign(o.Callsign)))

	msg[27] = (o.Emergency & 0x0F) << 4

	return Frame(msg)
}

// OwnshipGeoAltitudeFrame builds and frames an Ownship Geometric Altitude
// (0x0B) message: height above the ellipsoid in 5 ft steps, vertical
// figure of merit unavailable.
func OwnshipGeoAltitudeFrame(o Ownship) []byte {
	msg := make([]byte, 5)
	msg[0] = 0x0B
	v := o.HAEFeet / 5
	if v > math.MaxInt16 {
		v = math.MaxInt16
	}
	if v < math.MinInt16 {
		v = math.MinInt16
	}
	u := uint16(int16(v))
	msg[1] = byte(u >> 8)
	msg[2] = byte(u)
	msg[3] = 0x7F
	msg[4] = 0xFF
	return Frame(msg)
}

// FixFrames returns the frames sent for one status update: a heartbeat, and
// when locked the ownship report and geometric altitude.
func FixFrames(now time.Time, locked bool, r fix.Record, callsign string) [][]byte {
	frames := [][]byte{HeartbeatFrameAt(now, locked, false)}
	if !locked {
		return frames
	}
	o := FromFix(r, callsign)
	return append(frames, OwnshipReportFrame(o), OwnshipGeoAltitudeFrame(o))
}

func encodeLatLon24(deg float64) [3]byte {
	v := deg / latLonResolution
	// Truncate toward zero.
	wk := int32(v)
	u := uint32(wk) & 0x00FFFFFF
	return [3]byte{byte((u >> 16) & 0xFF), byte((u >> 8) & 0xFF), byte(u & 0xFF)}
}

func encodeAltitude12(altFeet int) uint16 {
	// 25 ft resolution with +1000 ft offset; 0xFFF when out of range.
	if altFeet < -1000 || altFeet > 101350 {
		return 0x0FFF
	}
	v := (altFeet + 1000) / 25
	return uint16(v) & 0x0FFF
}

func encodeU12(v int) uint16 {
	if v < 0 {
		return 0
	}
	if v > 0xFFF {
		return 0xFFF
	}
	return uint16(v)
}

func encodeTrack8(deg float64) byte {
	if deg < 0 {
		deg = math.Mod(deg, 360) + 360
	}
	deg = math.Mod(deg, 360)
	return byte(math.Floor((deg + trackResolution/2) / trackResolution))
}

func sanitizeCallsign(s string) string {
	if s == "" {
		s = "GNSSCTL"
	}
	s = strings.ToUpper(s)
	if len(s) > 8 {
		s = s[:8]
	}
	b := []byte(s)
	for i := range b {
		c := b[i]
		ok := (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || c == ' '
		if !ok {
			b[i] = ' '
		}
	}
	for len(b) < 8 {
		b = append(b, ' ')
	}
	return string(b)
}
