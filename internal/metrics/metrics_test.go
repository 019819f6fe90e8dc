package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"medguard/internal/guard"
)

func TestMetrics_Recorder(t *testing.T) {
	m := NewMetrics()

	m.EventProcessed(guard.EventCreated)
	m.EventProcessed(guard.EventCreated)
	m.EventProcessed(guard.EventDeleted)
	m.BackupCompleted(true, 20*time.Millisecond)
	m.BackupCompleted(false, time.Millisecond)
	m.BackupFailed("io_error")
	m.RestoreCompleted(time.Second)
	m.RestoreFailed("block_missing")
	m.AlertRaised(90)
	m.ThreatScore(50)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"created events", testutil.ToFloat64(m.EventsTotal.WithLabelValues("created")), 2},
		{"deleted events", testutil.ToFloat64(m.EventsTotal.WithLabelValues("deleted")), 1},
		{"created backups", testutil.ToFloat64(m.BackupsTotal.WithLabelValues("created")), 1},
		{"unchanged backups", testutil.ToFloat64(m.BackupsTotal.WithLabelValues("unchanged")), 1},
		{"backup failures", testutil.ToFloat64(m.BackupFailures.WithLabelValues("io_error")), 1},
		{"restores", testutil.ToFloat64(m.RestoresTotal), 1},
		{"restore failures", testutil.ToFloat64(m.RestoreFailures.WithLabelValues("block_missing")), 1},
		{"alerts", testutil.ToFloat64(m.AlertsTotal), 1},
		{"last alert score", testutil.ToFloat64(m.LastAlertScore), 90},
		{"threat score", testutil.ToFloat64(m.ThreatScoreGauge), 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.AlertRaised(75)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "medguard_alerts_total 1") {
		t.Errorf("exposition missing alerts counter:\n%s", body)
	}
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.AlertRaised(80)
	if got := testutil.ToFloat64(b.AlertsTotal); got != 0 {
		t.Errorf("second registry alerts = %v, want 0", got)
	}
}
