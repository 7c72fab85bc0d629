package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"gnssctl/internal/config"
	"gnssctl/internal/gps"
)

func TestGPSConfig_Mapping(t *testing.T) {
	cfg := config.Config{
		GPS: config.GPSConfig{
			Enable:         true,
			UpdateInterval: 30 * time.Second,
			AttemptTime:    -time.Second,
			Probe:          true,
			ProbeBauds:     []int{9600},
			ResetSettle:    time.Second,
		},
		Device: config.DeviceConfig{Role: "relay", Baud: 38400},
	}

	got := gpsConfig(cfg)
	if !got.Enabled || !got.Probe || got.Role != gps.RoleRelay || got.Baud != 38400 {
		t.Fatalf("gps config=%+v", got)
	}
	if got.UpdateInterval != 30*time.Second {
		t.Fatalf("update_interval=%s", got.UpdateInterval)
	}
	if got.AttemptTime != gps.Forever {
		t.Fatalf("attempt_time=%s want forever", got.AttemptTime)
	}

	cfg.GPS.ProbeBauds[0] = 4800
	if got.ProbeBauds[0] != 9600 {
		t.Fatalf("probe bauds aliased config")
	}
}

func TestGPSConfig_ClientRole(t *testing.T) {
	if r := gpsConfig(config.Config{Device: config.DeviceConfig{Role: "client"}}).Role; r != gps.RoleClient {
		t.Fatalf("role=%v", r)
	}
}

func TestPinConfig(t *testing.T) {
	pc := pinConfig(config.PinsConfig{Enable: 17, Standby: 27, Reset: 22, ResetActiveLow: true})
	want := gps.PinConfig{Enable: 17, Standby: 27, Reset: 22, ResetActiveLow: true}
	if pc != want {
		t.Fatalf("pins=%+v want %+v", pc, want)
	}
}

func TestOpenPort_Replay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.log")
	if err := os.WriteFile(path, []byte("START\n0,2447\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	e := &env{log: zap.NewNop().Sugar()}

	h, err := e.openPort(portOptions{replay: path})
	if err != nil {
		t.Fatalf("openPort() error: %v", err)
	}
	defer h.Close()
	if h.Port() == nil {
		t.Fatalf("expected replay port")
	}
	buf := make([]byte, 8)
	n, err := h.Port().Read(buf)
	if err != nil || string(buf[:n]) != "$G" {
		t.Fatalf("Read() n=%d err=%v", n, err)
	}
}

func TestOpenPort_ReplayMissing(t *testing.T) {
	e := &env{log: zap.NewNop().Sugar()}
	if _, err := e.openPort(portOptions{replay: filepath.Join(t.TempDir(), "nope.log")}); err == nil {
		t.Fatalf("expected error")
	}
}
