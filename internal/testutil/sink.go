package testutil

import (
	"sync"

	"medguard/internal/guard"
)

// RecordingSink stores every published alert. Safe for concurrent use.
type RecordingSink struct {
	mu     sync.Mutex
	alerts []guard.ThreatAlert
	Err    error // returned from Publish when set
}

var _ guard.AlertSink = (*RecordingSink)(nil)

func (s *RecordingSink) Publish(alert guard.ThreatAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return s.Err
}

// Alerts returns a copy of the published alerts in order.
func (s *RecordingSink) Alerts() []guard.ThreatAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]guard.ThreatAlert(nil), s.alerts...)
}
