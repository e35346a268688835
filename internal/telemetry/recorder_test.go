package telemetry

import (
	"testing"

	"github.com/touchlink/gateway/internal/config"
)

func TestRecordableFiltersHighFrequencyEvents(t *testing.T) {
	cases := []struct {
		event string
		want  bool
	}{
		{"device:command", true},
		{"device:status:update", true},
		{"presence:changed", true},
		{"sync:story:progress:update", true},
		{"device:vibration", false},
		{"audio:stream:ready", false},
		{"connected", false},
		{"error", false},
	}
	for _, tc := range cases {
		if got := Recordable(tc.event); got != tc.want {
			t.Errorf("Recordable(%q) = %v, want %v", tc.event, got, tc.want)
		}
	}
}

func TestDSN(t *testing.T) {
	explicit := config.DatabaseConfig{URL: "postgresql://custom"}
	if got := DSN(explicit); got != "postgresql://custom" {
		t.Errorf("explicit URL should win, got %q", got)
	}

	assembled := config.DatabaseConfig{
		Server: "db.internal",
		Port:   5432,
		User:   "gateway",
		Name:   "telemetry",
	}
	want := "postgresql://gateway@db.internal:5432/telemetry?sslmode=disable"
	if got := DSN(assembled); got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
}
