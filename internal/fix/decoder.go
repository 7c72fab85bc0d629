package fix

import (
	"math"
	"strconv"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// ExpiryAge bounds how old each component of a solution may be. NMEA output
// is at most a few Hz, so this leaves time to combine GGA, RMC and GSA.
const ExpiryAge = 5000 * time.Millisecond

// maxSentence caps a single line; NMEA allows 82 characters.
const maxSentence = 120

// pdopFromHDOP approximates PDOP when the receiver never sends GSA. It
// assumes VDOP == HDOP.
const pdopFromHDOP = 1.41

var (
	ErrNoLock      = errors.New("no acceptable lock")
	ErrStale       = errors.New("solution components too old")
	ErrNotUpdated  = errors.New("location not updated since last read")
	ErrImplausible = errors.New("implausible coordinates")
	ErrBogusDOP    = errors.New("bogus dilution of precision")
)

type datum struct {
	at time.Time
	ok bool
}

func (d datum) age(now time.Time) time.Duration {
	if !d.ok {
		return time.Duration(math.MaxInt64)
	}
	return now.Sub(d.at)
}

func (d *datum) touch(now time.Time) {
	d.at = now
	d.ok = true
}

// Decoder is an incremental NMEA decoder that tracks the age of each field
// so that a fix is only assembled from fresh data.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	clk clock.Clock

	line       []byte
	inSentence bool

	passed      uint32
	failed      uint32
	bogusCourse uint32

	lat, lon   float64
	location   datum
	locUpdated bool

	hour, minute, second int
	timeOfDay            datum

	day, month, year int
	date             datum

	quality int

	fixType      int
	fixTypeDatum datum
	gsaSeen      bool
	pdop         float64

	hdop float64
	sats int
	altM float64
	sepM float64

	course        float64
	courseUpdated bool
	speedKnots    float64
	speedUpdated  bool

	lastTrack uint32
	lastSpeed uint32
}

// NewDecoder returns a decoder that timestamps fields with clk.
func NewDecoder(clk clock.Clock) *Decoder {
	if clk == nil {
		clk = clock.New()
	}
	return &Decoder{clk: clk, line: make([]byte, 0, maxSentence)}
}

// Encode feeds one character. It returns true when c terminated a sentence
// whose checksum verified.
func (d *Decoder) Encode(c byte) bool {
	switch {
	case c == '$':
		d.line = append(d.line[:0], c)
		d.inSentence = true
		return false
	case !d.inSentence:
		return false
	case c == '\r' || c == '\n':
		d.inSentence = false
		return d.sentence(string(d.line))
	}

	d.line = append(d.line, c)
	if len(d.line) > maxSentence {
		d.inSentence = false
		d.failed++
	}
	return false
}

// PassedChecksums returns the number of sentences that verified.
func (d *Decoder) PassedChecksums() uint32 { return d.passed }

// FailedChecksums returns the number of malformed or corrupt sentences.
func (d *Decoder) FailedChecksums() uint32 { return d.failed }

// FixQuality is the last GGA fix quality indicator.
func (d *Decoder) FixQuality() int { return d.quality }

// FixType is the last GSA fix type, or 0 when no GSA has been received.
func (d *Decoder) FixType() int {
	if !d.gsaSeen {
		return 0
	}
	return d.fixType
}

// HasLock applies HasLock to the latest decoded quality and fix type.
func (d *Decoder) HasLock() bool {
	return HasLock(d.quality, d.FixType())
}

// Time returns the receiver's UTC date and time when both are known.
func (d *Decoder) Time() (time.Time, bool) {
	if !d.timeOfDay.ok || !d.date.ok || d.month < 1 {
		return time.Time{}, false
	}
	return d.utc(), true
}

func (d *Decoder) utc() time.Time {
	return time.Date(d.year, time.Month(d.month), d.day, d.hour, d.minute, d.second, 0, time.UTC)
}

// ReadFix assembles a Record from the current fields. Any error means no new
// fix is available and the caller should keep its previous one.
func (d *Decoder) ReadFix() (Record, error) {
	if !d.HasLock() {
		return Record{}, ErrNoLock
	}

	now := d.clk.Now()
	locAge := d.location.age(now)
	timeAge := d.timeOfDay.age(now)
	dateAge := d.date.age(now)
	stale := locAge >= ExpiryAge || timeAge >= ExpiryAge || dateAge >= ExpiryAge
	if d.gsaSeen && d.fixTypeDatum.age(now) >= ExpiryAge {
		stale = true
	}
	if stale {
		return Record{}, errors.Wrapf(ErrStale, "loc=%s time=%s date=%s", fmtAge(locAge), fmtAge(timeAge), fmtAge(dateAge))
	}

	if !d.locUpdated {
		return Record{}, ErrNotUpdated
	}
	d.locUpdated = false

	latI := int64(math.Round(d.lat * 1e7))
	lonI := int64(math.Round(d.lon * 1e7))
	if abs64(latI) > MaxLatitudeI || abs64(lonI) > MaxLongitudeI {
		return Record{}, errors.Wrapf(ErrImplausible, "lat_i=%d lon_i=%d", latI, lonI)
	}

	hdop := scaleDOP(d.hdop)
	if hdop == 0 {
		return Record{}, ErrBogusDOP
	}
	pdop := uint16(pdopFromHDOP * float64(hdop))
	if d.gsaSeen {
		pdop = scaleDOP(d.pdop)
	}

	if d.courseUpdated {
		d.courseUpdated = false
		if d.course >= 0 && d.course < 360 {
			d.lastTrack = uint32(math.Round(d.course * 1e5))
		} else {
			d.bogusCourse++
		}
	}
	if d.speedUpdated {
		d.speedUpdated = false
		d.lastSpeed = uint32(math.Round(d.speedKnots * 1.852))
	}

	rec := Record{
		LatitudeI:         int32(latI),
		LongitudeI:        int32(lonI),
		Altitude:          int32(math.Round(d.altM)),
		AltitudeHAE:       int32(math.Round(d.altM + d.sepM)),
		GeoidalSeparation: int32(math.Round(d.sepM)),
		HDOP:              hdop,
		PDOP:              pdop,
		FixQuality:        uint8(d.quality),
		FixType:           uint8(d.FixType()),
		SatsInView:        uint8(clampInt(d.sats, 0, math.MaxUint8)),
		GroundTrack:       d.lastTrack,
		GroundSpeed:       d.lastSpeed,
		Timestamp:         d.utc().Unix(),
	}
	return rec, nil
}

// BogusCourses counts course values rejected as >= 360 degrees.
func (d *Decoder) BogusCourses() uint32 { return d.bogusCourse }

func (d *Decoder) sentence(line string) bool {
	// Typed parsing is best effort; raw fields still drive quality, validity
	// and fix type when go-nmea rejects a sparse no-fix sentence.
	s, typed, err := parseSentence(line)
	if err != nil {
		d.failed++
		return false
	}
	d.passed++

	now := d.clk.Now()
	switch s.Type {
	case "GGA":
		d.applyGGA(now, s, typed)
	case "RMC":
		d.applyRMC(now, s, typed)
	case "GSA":
		d.applyGSA(now, s, typed)
	}
	return true
}

// GGA: 1 time, 2-5 lat/lon, 6 quality, 7 sats, 8 hdop, 9 alt, 11 separation.
func (d *Decoder) applyGGA(now time.Time, s sentence, typed nmea.Sentence) {
	d.quality = atoi(s.field(6))

	g, ok := typed.(nmea.GGA)
	if !ok {
		return
	}
	if s.field(1) != "" && g.Time.Valid {
		d.setTime(now, g.Time)
	}
	if d.quality > 0 && s.field(2) != "" && s.field(4) != "" {
		d.setLocation(now, g.Latitude, g.Longitude)
	}
	if s.field(7) != "" {
		d.sats = int(g.NumSatellites)
	}
	if s.field(8) != "" {
		d.hdop = g.HDOP
	}
	if s.field(9) != "" {
		d.altM = g.Altitude
		if s.field(11) != "" {
			d.sepM = g.Separation
		}
	}
}

// RMC: 1 time, 2 status, 3-6 lat/lon, 7 speed (kt), 8 course, 9 date.
func (d *Decoder) applyRMC(now time.Time, s sentence, typed nmea.Sentence) {
	r, ok := typed.(nmea.RMC)
	if !ok {
		return
	}
	active := s.field(2) == "A"
	if s.field(1) != "" && r.Time.Valid {
		d.setTime(now, r.Time)
	}
	if s.field(9) != "" && r.Date.Valid {
		d.day, d.month, d.year = r.Date.DD, r.Date.MM, 2000+r.Date.YY
		d.date.touch(now)
	}
	if active && s.field(3) != "" && s.field(5) != "" {
		d.setLocation(now, r.Latitude, r.Longitude)
	}
	if s.field(8) != "" {
		d.course = r.Course
		d.courseUpdated = true
	}
	if active && s.field(7) != "" {
		d.speedKnots = r.Speed
		d.speedUpdated = true
	}
}

// GSA: 2 fix type, 15 PDOP.
func (d *Decoder) applyGSA(now time.Time, s sentence, typed nmea.Sentence) {
	d.gsaSeen = true
	d.fixType = atoi(s.field(2))
	d.fixTypeDatum.touch(now)
	if g, ok := typed.(nmea.GSA); ok && s.field(15) != "" {
		d.pdop = g.PDOP
	}
}

func (d *Decoder) setTime(now time.Time, t nmea.Time) {
	d.hour, d.minute, d.second = t.Hour, t.Minute, t.Second
	d.timeOfDay.touch(now)
}

func (d *Decoder) setLocation(now time.Time, lat, lon float64) {
	d.lat, d.lon = lat, lon
	d.location.touch(now)
	d.locUpdated = true
}

func scaleDOP(v float64) uint16 {
	return uint16(clampInt(int(math.Round(v*100)), 0, math.MaxUint16))
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func fmtAge(d time.Duration) string {
	if d == time.Duration(math.MaxInt64) {
		return "never"
	}
	return d.String()
}
