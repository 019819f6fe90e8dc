package guard

import "sync"

// AlertLog keeps the most recent alerts in memory. When it grows past max,
// the oldest trim entries are dropped together.
type AlertLog struct {
	mu     sync.RWMutex
	alerts []ThreatAlert
	max    int
	trim   int
	total  uint64
}

// NewAlertLog creates an AlertLog. Non-positive arguments select 1000 and 100.
func NewAlertLog(max, trim int) *AlertLog {
	if max <= 0 {
		max = 1000
	}
	if trim <= 0 || trim > max {
		trim = min(100, max)
	}
	return &AlertLog{max: max, trim: trim}
}

// Append records alert.
func (l *AlertLog) Append(alert ThreatAlert) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.alerts = append(l.alerts, alert)
	l.total++
	if len(l.alerts) > l.max {
		l.alerts = append(l.alerts[:0:0], l.alerts[l.trim:]...)
	}
}

// Recent returns up to limit alerts, newest first. A non-positive limit returns all.
func (l *AlertLog) Recent(limit int) []ThreatAlert {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.alerts)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]ThreatAlert, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.alerts[i])
	}
	return out
}

// Len returns the number of retained alerts.
func (l *AlertLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.alerts)
}

// Total returns how many alerts were ever appended, including trimmed ones.
func (l *AlertLog) Total() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}
