package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	GPS    GPSConfig    `yaml:"gps"`
	Device DeviceConfig `yaml:"device"`
	State  StateConfig  `yaml:"state"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
	UDP    UDPConfig    `yaml:"udp"`
	Web    WebConfig    `yaml:"web"`
	Log    LogConfig    `yaml:"log"`
}

// GPSConfig controls acquisition scheduling. Enable defaults to true. A
// negative update_interval or attempt_time means forever.
type GPSConfig struct {
	Enable         bool          `yaml:"enable"`
	FixedPosition  bool          `yaml:"fixed_position"`
	UpdateInterval time.Duration `yaml:"update_interval"`
	AttemptTime    time.Duration `yaml:"attempt_time"`
	Probe          bool          `yaml:"probe"`
	ProbeBauds     []int         `yaml:"probe_bauds"`
	ResetSettle    time.Duration `yaml:"reset_settle"`
}

type DeviceConfig struct {
	// Role is "client" or "relay". Relays never run the receiver.
	Role string `yaml:"role"`
	// Serial may be empty to auto-detect /dev/ttyACM* or /dev/ttyUSB*.
	Serial string     `yaml:"serial"`
	Baud   int        `yaml:"baud"`
	Pins   PinsConfig `yaml:"pins"`
}

// PinsConfig names BCM GPIO numbers; 0 means not wired.
type PinsConfig struct {
	Enable          int  `yaml:"enable"`
	EnableActiveLow bool `yaml:"enable_active_low"`
	Standby         int  `yaml:"standby"`
	Reset           int  `yaml:"reset"`
	ResetActiveLow  bool `yaml:"reset_active_low"`
}

type StateConfig struct {
	Path string `yaml:"path"`
}

type MQTTConfig struct {
	Enable   bool   `yaml:"enable"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      int    `yaml:"qos"`
	Retained bool   `yaml:"retained"`
}

// UDPConfig sends status datagrams. Format is "json" or "gdl90".
type UDPConfig struct {
	Enable   bool   `yaml:"enable"`
	Dest     string `yaml:"dest"`
	Format   string `yaml:"format"`
	Callsign string `yaml:"callsign"`
}

// WebConfig enables the local status and control API.
type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Probe rates tried in order when gps.probe_bauds is empty.
var DefaultProbeBauds = []int{9600, 4800, 38400, 57600, 115200}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// The receiver runs unless gps.enable is explicitly false.
	cfg := Config{GPS: GPSConfig{Enable: true}}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}

	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.GPS.UpdateInterval == 0 {
		cfg.GPS.UpdateInterval = 120 * time.Second
	}
	if cfg.GPS.AttemptTime == 0 {
		cfg.GPS.AttemptTime = 900 * time.Second
	}
	if cfg.GPS.ResetSettle <= 0 {
		cfg.GPS.ResetSettle = 1 * time.Second
	}
	if len(cfg.GPS.ProbeBauds) == 0 {
		cfg.GPS.ProbeBauds = append([]int(nil), DefaultProbeBauds...)
	}
	for _, b := range cfg.GPS.ProbeBauds {
		if b <= 0 {
			return fmt.Errorf("gps.probe_bauds entries must be > 0")
		}
	}

	cfg.Device.Role = strings.ToLower(strings.TrimSpace(cfg.Device.Role))
	if cfg.Device.Role == "" {
		cfg.Device.Role = "client"
	}
	if cfg.Device.Role != "client" && cfg.Device.Role != "relay" {
		return fmt.Errorf("device.role must be 'client' or 'relay'")
	}
	cfg.Device.Serial = strings.TrimSpace(cfg.Device.Serial)
	if cfg.Device.Baud == 0 {
		cfg.Device.Baud = 9600
	}
	if cfg.Device.Baud < 0 {
		return fmt.Errorf("device.baud must be > 0")
	}
	p := cfg.Device.Pins
	if p.Enable < 0 || p.Standby < 0 || p.Reset < 0 {
		return fmt.Errorf("device.pins must be >= 0")
	}

	if cfg.State.Path == "" {
		cfg.State.Path = "/var/lib/gnssctl/state.yaml"
	}

	if cfg.MQTT.Enable {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
		}
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "gnssctl"
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "gnssctl/status"
	}

	if cfg.UDP.Enable && cfg.UDP.Dest == "" {
		return fmt.Errorf("udp.dest is required when udp.enable is true")
	}
	cfg.UDP.Format = strings.ToLower(strings.TrimSpace(cfg.UDP.Format))
	switch cfg.UDP.Format {
	case "":
		cfg.UDP.Format = "json"
	case "json", "gdl90":
	default:
		return fmt.Errorf("udp.format must be 'json' or 'gdl90'")
	}

	cfg.Web.Listen = strings.TrimSpace(cfg.Web.Listen)
	if cfg.Web.Enable && cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	switch cfg.Log.Level {
	case "":
		cfg.Log.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}
