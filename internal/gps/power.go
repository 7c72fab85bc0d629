package gps

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
)

// Line is one GPIO output.
type Line interface {
	SetValue(v int) error
	Close() error
}

// PinConfig names the BCM GPIO lines wired to the receiver. Zero means the
// line is not connected.
type PinConfig struct {
	Enable          int
	EnableActiveLow bool
	Standby         int
	Reset           int
	ResetActiveLow  bool
}

// Power drives the receiver's enable, standby and reset lines. Any of them
// may be absent.
type Power struct {
	enable  Line
	standby Line
	reset   Line

	enableOn int
	resetOn  int
}

// NewPower wraps already-opened lines.
func NewPower(enable, standby, reset Line, cfg PinConfig) *Power {
	p := &Power{enable: enable, standby: standby, reset: reset, enableOn: 1, resetOn: 1}
	if cfg.EnableActiveLow {
		p.enableOn = 0
	}
	if cfg.ResetActiveLow {
		p.resetOn = 0
	}
	return p
}

// OpenPower requests the configured GPIO lines. Lines are opened inactive:
// receiver powered, not in standby, not held in reset.
func OpenPower(cfg PinConfig) (*Power, error) {
	p := NewPower(nil, nil, nil, cfg)
	var err error
	if cfg.Enable > 0 {
		if p.enable, err = openLineFn(cfg.Enable, p.enableOn, "gnssctl-enable"); err != nil {
			return nil, multierr.Append(err, p.Close())
		}
	}
	if cfg.Standby > 0 {
		if p.standby, err = openLineFn(cfg.Standby, 1, "gnssctl-standby"); err != nil {
			return nil, multierr.Append(err, p.Close())
		}
	}
	if cfg.Reset > 0 {
		if p.reset, err = openLineFn(cfg.Reset, 1-p.resetOn, "gnssctl-reset"); err != nil {
			return nil, multierr.Append(err, p.Close())
		}
	}
	return p, nil
}

// HasStandby reports whether a standby line is wired.
func (p *Power) HasStandby() bool { return p != nil && p.standby != nil }

// HasReset reports whether a reset line is wired.
func (p *Power) HasReset() bool { return p != nil && p.reset != nil }

// Set powers the receiver on or off. With standbyOnly the standby line is
// used when wired, falling back to the enable line. With neither line this
// is a no-op.
func (p *Power) Set(on, standbyOnly bool) error {
	if p == nil {
		return nil
	}
	if on && p.enable != nil {
		if err := p.enable.SetValue(p.enableOn); err != nil {
			return err
		}
	}
	if (!standbyOnly || p.standby == nil) && p.enable != nil {
		v := p.enableOn
		if !on {
			v = 1 - p.enableOn
		}
		return p.enable.SetValue(v)
	}
	if p.standby != nil {
		v := 0
		if on {
			v = 1
		}
		return p.standby.SetValue(v)
	}
	return nil
}

// PulseReset holds the reset line active for d.
func (p *Power) PulseReset(clk clock.Clock, d time.Duration) error {
	if !p.HasReset() {
		return nil
	}
	if err := p.reset.SetValue(p.resetOn); err != nil {
		return err
	}
	clk.Sleep(d)
	return p.reset.SetValue(1 - p.resetOn)
}

// Close releases all lines.
func (p *Power) Close() error {
	if p == nil {
		return nil
	}
	var err error
	for _, l := range []*Line{&p.enable, &p.standby, &p.reset} {
		if *l != nil {
			err = multierr.Append(err, (*l).Close())
			*l = nil
		}
	}
	return err
}
