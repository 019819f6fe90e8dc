package guard

import "time"

// Recorder receives operational measurements from the service.
type Recorder interface {
	EventProcessed(kind EventKind)
	BackupCompleted(created bool, duration time.Duration)
	BackupFailed(errorKind string)
	RestoreCompleted(duration time.Duration)
	RestoreFailed(errorKind string)
	AlertRaised(score int)
	ThreatScore(score int)
}

// NopRecorder discards every measurement.
type NopRecorder struct{}

func (NopRecorder) EventProcessed(EventKind)            {}
func (NopRecorder) BackupCompleted(bool, time.Duration) {}
func (NopRecorder) BackupFailed(string)                 {}
func (NopRecorder) RestoreCompleted(time.Duration)      {}
func (NopRecorder) RestoreFailed(string)                {}
func (NopRecorder) AlertRaised(int)                     {}
func (NopRecorder) ThreatScore(int)                     {}
