package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestLoad_EmptyFileDefaults(t *testing.T) {
	path := writeTempConfig(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.GPS.UpdateInterval != 120*time.Second {
		t.Fatalf("update_interval=%s want 2m", cfg.GPS.UpdateInterval)
	}
	if cfg.GPS.AttemptTime != 900*time.Second {
		t.Fatalf("attempt_time=%s want 15m", cfg.GPS.AttemptTime)
	}
	if cfg.GPS.ResetSettle != time.Second {
		t.Fatalf("reset_settle=%s", cfg.GPS.ResetSettle)
	}
	if len(cfg.GPS.ProbeBauds) != len(DefaultProbeBauds) || cfg.GPS.ProbeBauds[0] != 9600 {
		t.Fatalf("probe_bauds=%v", cfg.GPS.ProbeBauds)
	}
	if cfg.Device.Role != "client" || cfg.Device.Baud != 9600 {
		t.Fatalf("device=%+v", cfg.Device)
	}
	if cfg.State.Path == "" || cfg.MQTT.Topic == "" || cfg.MQTT.ClientID == "" {
		t.Fatalf("expected state/mqtt defaults applied")
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("log.level=%q", cfg.Log.Level)
	}
	if cfg.UDP.Format != "json" {
		t.Fatalf("udp.format=%q", cfg.UDP.Format)
	}
	if !cfg.GPS.Enable {
		t.Fatalf("gps.enable should default to true")
	}
}

func TestLoad_GPSDisabledExplicitly(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, "gps:\n  enable: false\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.GPS.Enable {
		t.Fatalf("gps.enable=true want false")
	}
}

func TestLoad_FullConfig(t *testing.T) {
	body := `gps:
  enable: true
  fixed_position: true
  update_interval: 30s
  attempt_time: -1s
  probe: true
  probe_bauds: [115200, 9600]
device:
  role: Relay
  serial: /dev/ttyAMA0
  baud: 38400
  pins:
    enable: 17
    standby: 27
    reset: 22
    reset_active_low: true
mqtt:
  enable: true
  broker: tcp://localhost:1883
  qos: 1
udp:
  enable: true
  dest: 192.168.10.255:4100
  format: GDL90
  callsign: n1
web:
  enable: true
  listen: :8088
log:
  level: DEBUG
`
	cfg, err := Load(writeTempConfig(t, body))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.GPS.Enable || !cfg.GPS.FixedPosition || !cfg.GPS.Probe {
		t.Fatalf("gps flags=%+v", cfg.GPS)
	}
	if cfg.GPS.UpdateInterval != 30*time.Second || cfg.GPS.AttemptTime >= 0 {
		t.Fatalf("gps intervals=%s/%s", cfg.GPS.UpdateInterval, cfg.GPS.AttemptTime)
	}
	if cfg.GPS.ProbeBauds[0] != 115200 {
		t.Fatalf("probe_bauds=%v", cfg.GPS.ProbeBauds)
	}
	if cfg.Device.Role != "relay" || cfg.Device.Serial != "/dev/ttyAMA0" || cfg.Device.Baud != 38400 {
		t.Fatalf("device=%+v", cfg.Device)
	}
	if cfg.Device.Pins.Enable != 17 || cfg.Device.Pins.Standby != 27 || cfg.Device.Pins.Reset != 22 || !cfg.Device.Pins.ResetActiveLow {
		t.Fatalf("pins=%+v", cfg.Device.Pins)
	}
	if cfg.UDP.Format != "gdl90" || cfg.UDP.Callsign != "n1" {
		t.Fatalf("udp=%+v", cfg.UDP)
	}
	if !cfg.Web.Enable || cfg.Web.Listen != ":8088" {
		t.Fatalf("web=%+v", cfg.Web)
	}
	if cfg.MQTT.QoS != 1 || cfg.UDP.Dest != "192.168.10.255:4100" || cfg.Log.Level != "debug" {
		t.Fatalf("mqtt=%+v udp=%+v log=%+v", cfg.MQTT, cfg.UDP, cfg.Log)
	}
}

func TestLoad_WebListenDefault(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, "web:\n  enable: true\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Web.Listen != "127.0.0.1:8080" {
		t.Fatalf("web.listen=%q", cfg.Web.Listen)
	}
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	path := writeTempConfig(t, "gps:\n  enabel: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "BadRole",
			body: "device:\n  role: router\n",
			want: "device.role must be 'client' or 'relay'",
		},
		{
			name: "NegativeBaud",
			body: "device:\n  baud: -1\n",
			want: "device.baud must be > 0",
		},
		{
			name: "NegativePin",
			body: "device:\n  pins:\n    reset: -4\n",
			want: "device.pins must be >= 0",
		},
		{
			name: "ZeroProbeBaud",
			body: "gps:\n  probe_bauds: [9600, 0]\n",
			want: "gps.probe_bauds entries must be > 0",
		},
		{
			name: "MQTTRequiresBroker",
			body: "mqtt:\n  enable: true\n",
			want: "mqtt.broker is required when mqtt.enable is true",
		},
		{
			name: "MQTTBadQoS",
			body: "mqtt:\n  enable: true\n  broker: tcp://localhost:1883\n  qos: 3\n",
			want: "mqtt.qos must be 0, 1 or 2",
		},
		{
			name: "UDPRequiresDest",
			body: "udp:\n  enable: true\n",
			want: "udp.dest is required when udp.enable is true",
		},
		{
			name: "UDPBadFormat",
			body: "udp:\n  format: xml\n",
			want: "udp.format must be 'json' or 'gdl90'",
		},
		{
			name: "BadLogLevel",
			body: "log:\n  level: verbose\n",
			want: "log.level must be one of debug, info, warn, error",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tc.body))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}
