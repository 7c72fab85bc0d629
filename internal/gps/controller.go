package gps

import (
	"bytes"
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gnssctl/internal/fix"
	"gnssctl/internal/status"
	"gnssctl/internal/ubx"
)

// Forever is an infinite interval: no scheduled wake, no attempt limit.
const Forever = time.Duration(math.MaxInt64)

// Suggested re-poll intervals returned by Tick. At 9600 baud about one byte
// arrives per millisecond, so 200 ms stays well inside the UART buffer.
const (
	AwakeInterval  = 200 * time.Millisecond
	AsleepInterval = 5 * time.Second
	initRetry      = 2 * time.Second
)

const (
	// Sleep budgets above which the receiver is powered off or put in standby.
	powerOffBudget = 15 * time.Minute
	standbyBudget  = 10 * time.Second

	// Without a worthwhile sleep window the learned average creeps down so a
	// later cycle tries sleeping again.
	averageFloor = 20 * time.Second
	averageStep  = time.Second

	rebootLimit      = 2
	checksumLogEvery = 10
	maxDrainPerTick  = 8192
)

// rebootBanner is printed by u-blox receivers on every boot.
var rebootBanner = []byte("$GPTXT,01,01,02,u-blox ag - www.u-blox.com*50")

// constellationCmd enables GPS, GLONASS, Galileo and BeiDou.
const constellationCmd = "PMTK353,1,1,1,0,1"

// State is the scheduler state.
type State int

const (
	StateDisabled State = iota
	StateAsleep
	StateAwake
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateAsleep:
		return "asleep"
	case StateAwake:
		return "awake"
	default:
		return "unknown"
	}
}

// Role is the device role. Relays never acquire.
type Role int

const (
	RoleClient Role = iota
	RoleRelay
)

// Config controls the scheduler.
type Config struct {
	Enabled       bool
	FixedPosition bool

	// UpdateInterval is the time between acquisitions; AttemptTime bounds
	// each acquisition. Non-positive values mean Forever.
	UpdateInterval time.Duration
	AttemptTime    time.Duration

	Role Role

	// Baud is set during serial initialization when non-zero.
	Baud int
	// Probe enables model detection over ProbeBauds on the first tick.
	Probe      bool
	ProbeBauds []int

	// ResetSettle is the wait after sending the factory reset frame.
	ResetSettle time.Duration
}

// RTC is the host clock that consumes receiver time.
type RTC interface {
	// HasGPSTime reports whether the clock was already set from GPS.
	HasGPSTime() bool
	// SetFromGPS sets the clock and reports whether it was accepted.
	SetFromGPS(t time.Time) bool
}

// StateStore persists whether the one-time factory reset was done.
type StateStore interface {
	DidGPSReset() bool
	MarkGPSReset() error
}

// StatusSink receives a snapshot every tick.
type StatusSink interface {
	Publish(status.Status) bool
}

// Options are the controller's collaborators. All are optional.
type Options struct {
	Clock  clock.Clock
	Log    *zap.SugaredLogger
	Power  *Power
	RTC    RTC
	Store  StateStore
	Status StatusSink
}

// Controller owns one receiver and duty-cycles it.
type Controller struct {
	mu sync.Mutex

	cfg    Config
	handle *Handle
	port   Port
	clk    clock.Clock
	log    *zap.SugaredLogger
	power  *Power
	rtc    RTC
	store  StateStore
	sink   StatusSink

	proto *Protocol
	cls   ubx.Classifier
	dec   *fix.Decoder
	buf   [256]byte

	initDone bool
	enabled  bool
	model    Model

	isAwake        bool
	powerSaving    bool
	wakeInhibited  bool
	lastWakeStart  time.Time
	lastSleepStart time.Time
	averageLock    time.Duration
	cycles         int

	connected        bool
	hasValidLocation bool
	fix              fix.Record
	rebootsSeen      int
	rebootAnomalies  uint32
	loggedFailures   uint32

	hostSleep chan struct{}
	kick      chan struct{}
	tickMu    sync.Mutex
	tickStop  context.CancelFunc
}

// NewController takes ownership of h. It fails with ErrPortInUse when
// another controller already owns the handle. A nil handle or port is
// accepted; the first Tick then disables the controller.
func NewController(h *Handle, cfg Config, opts Options) (*Controller, error) {
	if err := h.acquire(); err != nil {
		return nil, err
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	c := &Controller{
		cfg:       cfg,
		handle:    h,
		port:      h.Port(),
		clk:       clk,
		log:       log,
		power:     opts.Power,
		rtc:       opts.RTC,
		store:     opts.Store,
		sink:      opts.Status,
		dec:       fix.NewDecoder(clk),
		enabled:   true,
		hostSleep: make(chan struct{}, 1),
		kick:      make(chan struct{}, 1),
	}
	if c.port != nil {
		c.proto = NewProtocol(c.port, clk, log)
	}
	c.lastSleepStart = clk.Now()
	return c, nil
}

// Close releases ownership of the handle. The port itself stays open.
func (c *Controller) Close() {
	c.handle.release()
}

// State returns the current scheduler state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state()
}

func (c *Controller) state() State {
	switch {
	case !c.enabled:
		return StateDisabled
	case c.isAwake:
		return StateAwake
	default:
		return StateAsleep
	}
}

// AverageLockTime returns the learned time to lock.
func (c *Controller) AverageLockTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.averageLock
}

// Fix returns the last accepted fix and whether it is currently valid.
func (c *Controller) Fix() (fix.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fix, c.hasValidLocation
}

// Model returns the receiver family found by probing.
func (c *Controller) Model() Model {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// Tick runs one scheduling step and returns when it wants to run next.
func (c *Controller) Tick(ctx context.Context) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initDone {
		if d, done := c.initialize(ctx); !done {
			return d
		}
	}
	if !c.enabled {
		return Forever
	}
	if c.cfg.Role == RoleRelay {
		c.log.Infow("gps disabled for relay role")
		return c.disable()
	}

	if c.drain() {
		c.connected = true
	}

	if c.rebootsSeen > rebootLimit {
		c.rebootsSeen = 0
		c.rebootAnomalies++
		c.log.Warnw("gps reboot storm, factory reset", "anomalies", c.rebootAnomalies)
		if err := c.proto.FactoryReset(ctx, c.power, c.cfg.ResetSettle); err != nil {
			c.log.Warnw("gps factory reset failed", "err", err)
		}
		c.cls.Reset()
	}

	now := c.clk.Now()
	timeAsleep := now.Sub(c.lastSleepStart)
	sleep := c.sleepInterval()
	if !c.isAwake && sleep != Forever && !c.wakeInhibited &&
		(timeAsleep >= sleep || (c.powerSaving && timeAsleep >= sleep-c.averageLock)) {
		c.setAwake(true)
	}

	if c.isAwake {
		gotTime := c.lookForTime()
		gotLoc := c.lookForLocation()
		if gotLoc && !c.hasValidLocation {
			c.log.Debugw("gps location acquired", "sats", c.fix.SatsInView, "hdop", c.fix.HDOP)
			c.hasValidLocation = true
		}

		now = c.clk.Now()
		wake := c.wakeTime()
		tooLong := wake != Forever && now.Sub(c.lastWakeStart) >= wake

		if (gotLoc && gotTime) || tooLong {
			if tooLong {
				if c.hasValidLocation {
					c.log.Infow("gps location lost", "last_read", gotLoc)
				}
				c.fix = fix.Record{}
				c.hasValidLocation = false
			}
			c.setAwake(false)
		}
	}

	c.publish()

	if c.cfg.FixedPosition && c.hasValidLocation {
		c.log.Infow("gps fixed position acquired, disabling")
		return c.disable()
	}
	if c.isAwake {
		return AwakeInterval
	}
	return AsleepInterval
}

// initialize performs the one-time setup. done is false when Tick should
// return d immediately.
func (c *Controller) initialize(ctx context.Context) (d time.Duration, done bool) {
	if c.port == nil {
		c.log.Warnw("gps no serial port, disabling")
		c.initDone = true
		return c.disable(), false
	}
	if err := c.handle.initialize(c.serialInit); err != nil {
		c.log.Warnw("gps serial init failed", "err", err)
		return initRetry, false
	}
	if !c.cfg.Enabled {
		c.initDone = true
		return c.disable(), false
	}

	if c.cfg.Probe {
		m, baud, err := c.proto.Detect(ctx, c.cfg.ProbeBauds)
		if err != nil {
			c.log.Warnw("gps probe interrupted", "err", err)
			return initRetry, false
		}
		c.model = m
		if m == ModelUnknown && c.cfg.Baud > 0 {
			if err := c.port.SetBaud(c.cfg.Baud); err != nil {
				c.log.Warnw("gps restore baud failed", "baud", c.cfg.Baud, "err", err)
			}
		} else if m != ModelUnknown {
			c.log.Infow("gps receiver found", "model", m, "baud", baud)
		}
		c.cls.Reset()
	}

	if c.store != nil && !c.store.DidGPSReset() {
		c.log.Warnw("gps factory reset requested")
		if err := c.proto.FactoryReset(ctx, c.power, c.cfg.ResetSettle); err != nil {
			c.log.Warnw("gps factory reset failed", "err", err)
		} else if err := c.store.MarkGPSReset(); err != nil {
			c.log.Warnw("gps save reset state failed", "err", err)
		}
		c.cls.Reset()
	}

	c.initDone = true
	if c.cfg.FixedPosition {
		// No schedule will wake a fixed-position device; take one fix now.
		c.setAwake(true)
	}
	return 0, true
}

func (c *Controller) serialInit(p Port) error {
	if c.cfg.Baud > 0 {
		if err := p.SetBaud(c.cfg.Baud); err != nil {
			return errors.Wrapf(err, "set baud %d", c.cfg.Baud)
		}
	}
	c.cls.Reset()
	return c.proto.WriteSentence(constellationCmd)
}

// drain consumes buffered input. While asleep it is discarded. It reports
// whether a valid sentence was decoded.
func (c *Controller) drain() bool {
	if !c.isAwake {
		c.proto.Drain()
		return false
	}
	valid := false
	total := 0
	for total < maxDrainPerTick {
		n, err := c.port.Read(c.buf[:])
		if err != nil {
			c.log.Warnw("gps read failed", "err", err)
			break
		}
		if n == 0 {
			break
		}
		total += n
		for _, b := range c.buf[:n] {
			r := c.cls.Push(b)
			if r == ubx.ContinueBinary || r == ubx.BinaryComplete {
				continue
			}
			if c.dec.Encode(b) {
				valid = true
			}
			if r == ubx.TextComplete && bytes.Contains(c.cls.Frame(), rebootBanner) {
				c.rebootsSeen++
				c.log.Infow("gps reboot banner seen", "count", c.rebootsSeen)
			}
		}
	}

	if failed := c.dec.FailedChecksums(); failed/checksumLogEvery > c.loggedFailures/checksumLogEvery {
		c.log.Warnw("gps nmea checksum failures", "failed", failed, "passed", c.dec.PassedChecksums())
		c.loggedFailures = failed
	}
	return valid
}

func (c *Controller) lookForTime() bool {
	if c.rtc != nil && c.rtc.HasGPSTime() {
		return true
	}
	t, ok := c.dec.Time()
	if !ok {
		return false
	}
	if c.rtc == nil {
		return true
	}
	return c.rtc.SetFromGPS(t)
}

func (c *Controller) lookForLocation() bool {
	rec, err := c.dec.ReadFix()
	if err != nil {
		if !errors.Is(err, fix.ErrNoLock) && !errors.Is(err, fix.ErrNotUpdated) {
			c.log.Debugw("gps fix rejected", "err", err)
		}
		return false
	}
	c.fix = rec
	return true
}

func (c *Controller) sleepInterval() time.Duration {
	if !c.cfg.Enabled || c.cfg.FixedPosition || c.cfg.UpdateInterval <= 0 {
		return Forever
	}
	return c.cfg.UpdateInterval
}

func (c *Controller) wakeTime() time.Duration {
	if c.cfg.AttemptTime <= 0 {
		return Forever
	}
	return c.cfg.AttemptTime
}

// setAwake switches between acquiring and sleeping, learns the lock time
// on the way down and picks a power strategy.
func (c *Controller) setAwake(on bool) {
	if c.isAwake == on {
		return
	}
	c.isAwake = on
	if !c.enabled {
		c.setPower(false, false)
		return
	}

	now := c.clk.Now()
	if on {
		c.lastWakeStart = now
	} else {
		c.lastSleepStart = now
		c.cycles++
		elapsed := now.Sub(c.lastWakeStart)
		if c.cycles == 1 {
			c.averageLock = elapsed
		} else {
			c.averageLock += (elapsed - c.averageLock) / time.Duration(c.cycles)
		}
		c.log.Debugw("gps lock took", "elapsed", elapsed, "average", c.averageLock, "cycles", c.cycles)
	}

	budget := Forever
	if sleep := c.sleepInterval(); sleep != Forever {
		budget = sleep - c.averageLock
	}
	switch {
	case budget > powerOffBudget:
		c.setPower(on, false)
	case budget > standbyBudget:
		c.setPower(on, true)
	case c.averageLock > averageFloor:
		c.averageLock -= averageStep
	}
}

func (c *Controller) setPower(on, standbyOnly bool) {
	c.log.Debugw("gps power", "on", on, "standby_only", standbyOnly)
	if on && c.proto != nil {
		c.proto.Drain()
		c.cls.Reset()
	}
	c.powerSaving = !on
	if err := c.power.Set(on, standbyOnly); err != nil {
		c.log.Warnw("gps power toggle failed", "on", on, "err", err)
	}
}

func (c *Controller) publish() {
	if c.sink == nil {
		return
	}
	c.sink.Publish(status.Status{
		Connected:       c.connected,
		HasLock:         c.hasValidLocation,
		IsPowerSaving:   c.powerSaving,
		Fix:             c.fix,
		RebootAnomalies: c.rebootAnomalies,
	})
}

func (c *Controller) disable() time.Duration {
	c.enabled = false
	if c.isAwake {
		c.setAwake(false)
	} else {
		c.setPower(false, false)
	}
	return Forever
}

// Disable stops acquisition and powers the receiver down.
func (c *Controller) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disable()
}

// Enable re-enables a disabled controller and starts an acquisition.
func (c *Controller) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return
	}
	c.cfg.Enabled = true
	c.enabled = true
	if c.initDone {
		c.setAwake(true)
	}
	c.nudge()
}

// SetRole changes the device role; a relay disables on the next tick.
func (c *Controller) SetRole(r Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Role = r
}

// ForceWake(true) clears any inhibit and starts an acquisition now.
// ForceWake(false) inhibits scheduled wakes; an acquisition already running
// is left to finish or time out.
func (c *Controller) ForceWake(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wakeInhibited = !on
	if on && c.enabled && c.initDone {
		c.setAwake(true)
		c.nudge()
	}
}

// nudge makes Run tick now instead of waiting out its interval.
func (c *Controller) nudge() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// PrepareForHostSleep powers the receiver off at once, abandoning any
// acquisition without learning from it.
func (c *Controller) PrepareForHostSleep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Infow("gps host sleep")
	if c.isAwake {
		c.isAwake = false
		c.lastSleepStart = c.clk.Now()
	}
	c.setPower(false, false)
}

// RequestHostSleep asks Run to put the receiver to sleep. A tick in progress
// is cancelled.
func (c *Controller) RequestHostSleep() {
	c.tickMu.Lock()
	if c.tickStop != nil {
		c.tickStop()
	}
	c.tickMu.Unlock()
	select {
	case c.hostSleep <- struct{}{}:
	default:
	}
}

// Run ticks until ctx is done, honoring each returned interval.
func (c *Controller) Run(ctx context.Context) error {
	for {
		tickCtx, cancel := context.WithCancel(ctx)
		c.tickMu.Lock()
		c.tickStop = cancel
		c.tickMu.Unlock()

		d := c.Tick(tickCtx)

		c.tickMu.Lock()
		c.tickStop = nil
		c.tickMu.Unlock()
		cancel()

		var timer *clock.Timer
		var wait <-chan time.Time
		if d != Forever {
			timer = c.clk.Timer(d)
			wait = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return ctx.Err()
		case <-c.hostSleep:
			stopTimer(timer)
			c.PrepareForHostSleep()
		case <-c.kick:
			stopTimer(timer)
		case <-wait:
		}
	}
}

func stopTimer(t *clock.Timer) {
	if t != nil {
		t.Stop()
	}
}
