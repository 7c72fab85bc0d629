// Package fix decodes NMEA sentences into position fixes.
package fix

// Record is one accepted position solution. Coordinates are fixed-point
// integers in 1e-7 degrees; dilution values are scaled by 100.
//
// A Record is a value: consumers get copies and never see later updates.
type Record struct {
	LatitudeI  int32 `json:"latitude_i"`
	LongitudeI int32 `json:"longitude_i"`

	// Altitude is above mean sea level (geoid), AltitudeHAE above the WGS84
	// ellipsoid, both in meters.
	Altitude          int32 `json:"altitude"`
	AltitudeHAE       int32 `json:"altitude_hae"`
	GeoidalSeparation int32 `json:"altitude_geoidal_separation"`

	HDOP uint16 `json:"hdop"`
	PDOP uint16 `json:"pdop"`

	FixQuality uint8 `json:"fix_quality"`
	FixType    uint8 `json:"fix_type"`
	SatsInView uint8 `json:"sats_in_view"`

	// GroundTrack is in 1e-5 degrees, GroundSpeed in km/h.
	GroundTrack uint32 `json:"ground_track"`
	GroundSpeed uint32 `json:"ground_speed"`

	// Timestamp is seconds since the Unix epoch from the receiver's date/time.
	Timestamp int64 `json:"timestamp"`
}

// Plausibility bounds in scaled units.
const (
	MaxLatitudeI  = 900000000
	MaxLongitudeI = 1800000000
)

// HasLock reports whether a GGA fix quality and an optional GSA fix type
// describe an acceptable lock. A fix type of 0 means no GSA data was seen.
func HasLock(quality, fixType int) bool {
	if quality < 1 || quality > 5 {
		return false
	}
	return fixType == 3 || fixType == 0
}
