package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  host: localhost
  name: verid
  user: verid
  password: secret
nats:
  url: nats://localhost:4222
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Detection.Backend != "retinaface" {
		t.Errorf("Detection.Backend = %q, want retinaface", cfg.Detection.Backend)
	}
	if cfg.Matching.Tolerance != 0.6 {
		t.Errorf("Matching.Tolerance = %v, want 0.6", cfg.Matching.Tolerance)
	}
	if time.Duration(cfg.Liveness.Window) != 3*time.Second {
		t.Errorf("Liveness.Window = %v, want 3s", cfg.Liveness.Window)
	}
	if cfg.Attendance.LateCutoff != "09:00" {
		t.Errorf("Attendance.LateCutoff = %q, want 09:00", cfg.Attendance.LateCutoff)
	}
	if cfg.Emotion.BufferSize != 10 {
		t.Errorf("Emotion.BufferSize = %d, want 10", cfg.Emotion.BufferSize)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
liveness:
  window: 1500ms
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if time.Duration(cfg.Liveness.Window) != 1500*time.Millisecond {
		t.Errorf("Liveness.Window = %v, want 1.5s", cfg.Liveness.Window)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VERID_SERVER_PORT", "9999")
	t.Setenv("VERID_DB_PASSWORD", "from-env")
	t.Setenv("VERID_DETECTION_BACKEND", "yunet")

	path := writeConfig(t, `
server:
  port: 8080
database:
  password: from-file
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want env override 9999", cfg.Server.Port)
	}
	if cfg.Database.Password != "from-env" {
		t.Errorf("Database.Password = %q, want from-env", cfg.Database.Password)
	}
	if cfg.Detection.Backend != "yunet" {
		t.Errorf("Detection.Backend = %q, want yunet", cfg.Detection.Backend)
	}
}

func TestLoadRejectsBadCutoff(t *testing.T) {
	path := writeConfig(t, `
attendance:
  late_cutoff: "25:99"
`)
	if _, err := Load(path); err == nil {
		t.Error("invalid late_cutoff should fail Load")
	}
}

func TestCutoffMinutes(t *testing.T) {
	tests := []struct {
		cutoff string
		want   int
	}{
		{"09:00", 540},
		{"00:00", 0},
		{"13:45", 825},
	}
	for _, tt := range tests {
		a := AttendanceConfig{LateCutoff: tt.cutoff}
		got, err := a.CutoffMinutes()
		if err != nil {
			t.Errorf("CutoffMinutes(%q): %v", tt.cutoff, err)
			continue
		}
		if got != tt.want {
			t.Errorf("CutoffMinutes(%q) = %d, want %d", tt.cutoff, got, tt.want)
		}
	}
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Name: "verid", User: "u", Password: "p"}
	want := "postgres://u:p@db:5432/verid?sslmode=disable"
	if got := d.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
