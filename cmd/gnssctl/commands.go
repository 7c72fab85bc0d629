package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"gnssctl/internal/config"
	"gnssctl/internal/gps"
	"gnssctl/internal/logging"
	"gnssctl/internal/replay"
	"gnssctl/internal/state"
	"gnssctl/internal/status"
	"gnssctl/internal/udp"
	"gnssctl/internal/web"
)

// env is what every subcommand starts from.
type env struct {
	cfg config.Config
	log *zap.SugaredLogger
}

func loadEnv(configPath string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: log}, nil
}

// portOptions select where receiver bytes come from.
type portOptions struct {
	capture    string
	replay     string
	replayLoop bool
}

// openPort opens the configured serial device, or a recorded capture. A
// serial failure yields an empty handle so the controller disables itself
// instead of the process exiting.
func (e *env) openPort(opts portOptions) (*gps.Handle, error) {
	if opts.replay != "" {
		recs, err := replay.ReadFile(opts.replay)
		if err != nil {
			return nil, errors.Wrap(err, "capture load failed")
		}
		p, err := replay.NewPort(recs, clock.New(), opts.replayLoop)
		if err != nil {
			return nil, errors.Wrapf(err, "capture %s", opts.replay)
		}
		e.log.Infow("gps replaying capture", "path", opts.replay, "loop", opts.replayLoop)
		return gps.NewHandle(p), nil
	}

	p, path, err := gps.OpenSerial(e.cfg.Device.Serial, e.cfg.Device.Baud)
	if err != nil {
		e.log.Warnw("gps serial unavailable", "path", e.cfg.Device.Serial, "err", err)
		return gps.NewHandle(nil), nil
	}
	e.log.Infow("gps serial opened", "path", path, "baud", e.cfg.Device.Baud)

	if opts.capture != "" {
		w, err := replay.CreateWriter(opts.capture, clock.New())
		if err != nil {
			_ = p.Close()
			return nil, errors.Wrap(err, "capture create failed")
		}
		e.log.Infow("gps capturing input", "path", opts.capture)
		return gps.NewHandle(replay.NewTap(p, w)), nil
	}
	return gps.NewHandle(p), nil
}

func (e *env) openPower() *gps.Power {
	pc := pinConfig(e.cfg.Device.Pins)
	if pc == (gps.PinConfig{}) {
		return nil
	}
	pw, err := gps.OpenPower(pc)
	if err != nil {
		e.log.Warnw("gps power pins unavailable", "err", err)
		return nil
	}
	return pw
}

// publisher builds the status fan-out. The returned closer releases the
// network observers.
func (e *env) publisher() (*status.Publisher, func() error) {
	pub := status.NewPublisher(status.LogObserver{Log: e.log})
	var closers []func() error

	if m := e.cfg.MQTT; m.Enable {
		client, err := status.ConnectMQTT(m.Broker, m.ClientID)
		if err != nil {
			e.log.Warnw("mqtt connect failed", "broker", m.Broker, "err", err)
		} else {
			pub.Subscribe(&status.MQTTObserver{
				Client:   client,
				Topic:    m.Topic,
				QoS:      byte(m.QoS),
				Retained: m.Retained,
				Log:      e.log,
			})
			closers = append(closers, func() error {
				client.Disconnect(250)
				return nil
			})
		}
	}

	if u := e.cfg.UDP; u.Enable {
		b, err := udp.NewBroadcaster(u.Dest)
		if err != nil {
			e.log.Warnw("udp status init failed", "dest", u.Dest, "err", err)
		} else {
			if u.Format == "gdl90" {
				pub.Subscribe(&status.GDL90Observer{Sender: b, Callsign: u.Callsign, Log: e.log})
			} else {
				pub.Subscribe(&status.UDPObserver{Sender: b, Log: e.log})
			}
			closers = append(closers, b.Close)
		}
	}

	return pub, func() error {
		var err error
		for _, c := range closers {
			err = multierr.Append(err, c())
		}
		return err
	}
}

func runCmd(configPath *string) *cobra.Command {
	var popts portOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the receiver scheduler until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = e.log.Sync() }()

			store, err := state.Open(e.cfg.State.Path)
			if err != nil {
				return errors.Wrap(err, "state open failed")
			}

			h, err := e.openPort(popts)
			if err != nil {
				return err
			}
			defer h.Close()
			pw := e.openPower()
			if pw != nil {
				defer pw.Close()
			}
			pub, closePub := e.publisher()
			defer func() {
				if err := closePub(); err != nil {
					e.log.Warnw("status close", "err", err)
				}
			}()

			ctrl, err := gps.NewController(h, gpsConfig(e.cfg), gps.Options{
				Log:    e.log,
				Power:  pw,
				Store:  store,
				Status: pub,
			})
			if err != nil {
				return err
			}
			defer ctrl.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if e.cfg.Web.Enable {
				ws := web.NewStatus()
				pub.Subscribe(ws)
				go func() {
					err := web.Serve(ctx, e.cfg.Web.Listen, web.Handler(ws, ctrl, e.log))
					if err != nil && ctx.Err() == nil {
						e.log.Warnw("web api stopped", "listen", e.cfg.Web.Listen, "err", err)
					}
				}()
				e.log.Infow("web api listening", "listen", e.cfg.Web.Listen)
			}

			sleepSig := make(chan os.Signal, 1)
			signal.Notify(sleepSig, syscall.SIGUSR1)
			defer signal.Stop(sleepSig)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-sleepSig:
						ctrl.RequestHostSleep()
					}
				}
			}()

			e.log.Infow("gnssctl starting",
				"update_interval", e.cfg.GPS.UpdateInterval,
				"attempt_time", e.cfg.GPS.AttemptTime,
				"role", e.cfg.Device.Role,
			)
			err = ctrl.Run(ctx)
			e.log.Infow("gnssctl stopping", "avg_lock", ctrl.AverageLockTime())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&popts.capture, "capture", "", "Record raw receiver input to this file")
	cmd.Flags().StringVar(&popts.replay, "replay", "", "Read receiver input from a capture instead of the serial port")
	cmd.Flags().BoolVar(&popts.replayLoop, "replay-loop", false, "Restart the capture when it ends")
	cmd.MarkFlagsMutuallyExclusive("capture", "replay")
	return cmd
}

func probeCmd(configPath *string) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Detect the receiver model and baud rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = e.log.Sync() }()

			p, path, err := gps.OpenSerial(e.cfg.Device.Serial, e.cfg.Device.Baud)
			if err != nil {
				return err
			}
			defer p.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			model, baud, err := gps.NewProtocol(p, clock.New(), e.log).Detect(ctx, e.cfg.GPS.ProbeBauds)
			if err != nil {
				return err
			}
			if model == gps.ModelUnknown {
				return errors.Errorf("%s: no receiver answered at %v", path, e.cfg.GPS.ProbeBauds)
			}
			cmd.Printf("%s: %s at %d baud\n", path, model, baud)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall probe timeout")
	return cmd
}

func resetCmd(configPath *string) *cobra.Command {
	var rearm bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Factory reset the receiver",
		Long: `Sends the factory reset command and pulses the reset pin when wired.
With --rearm the reset is instead scheduled for the next run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = e.log.Sync() }()

			store, err := state.Open(e.cfg.State.Path)
			if err != nil {
				return errors.Wrap(err, "state open failed")
			}
			if rearm {
				return store.ClearGPSReset()
			}

			p, _, err := gps.OpenSerial(e.cfg.Device.Serial, e.cfg.Device.Baud)
			if err != nil {
				return err
			}
			defer p.Close()
			pw := e.openPower()
			if pw != nil {
				defer pw.Close()
			}

			if err := gps.NewProtocol(p, clock.New(), e.log).FactoryReset(cmd.Context(), pw, e.cfg.GPS.ResetSettle); err != nil {
				return err
			}
			return store.MarkGPSReset()
		},
	}
	cmd.Flags().BoolVar(&rearm, "rearm", false, "Clear the reset flag so the next run resets the receiver")
	return cmd
}

// gpsConfig maps the file config onto the scheduler's. Negative intervals
// mean forever.
func gpsConfig(cfg config.Config) gps.Config {
	role := gps.RoleClient
	if cfg.Device.Role == "relay" {
		role = gps.RoleRelay
	}
	return gps.Config{
		Enabled:        cfg.GPS.Enable,
		FixedPosition:  cfg.GPS.FixedPosition,
		UpdateInterval: forever(cfg.GPS.UpdateInterval),
		AttemptTime:    forever(cfg.GPS.AttemptTime),
		Role:           role,
		Baud:           cfg.Device.Baud,
		Probe:          cfg.GPS.Probe,
		ProbeBauds:     append([]int(nil), cfg.GPS.ProbeBauds...),
		ResetSettle:    cfg.GPS.ResetSettle,
	}
}

func forever(d time.Duration) time.Duration {
	if d < 0 {
		return gps.Forever
	}
	return d
}

func pinConfig(p config.PinsConfig) gps.PinConfig {
	return gps.PinConfig{
		Enable:          p.Enable,
		EnableActiveLow: p.EnableActiveLow,
		Standby:         p.Standby,
		Reset:           p.Reset,
		ResetActiveLow:  p.ResetActiveLow,
	}
}
