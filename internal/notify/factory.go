// Package notify delivers threat alerts outside the process.
package notify

import (
	"fmt"
	"io"
	"path/filepath"

	"medguard/internal/config"
	"medguard/internal/guard"
)

// AlertsFileName is the JSON-lines alert log written by the "log" sink.
const AlertsFileName = "alerts.jsonl"

// Sink is an AlertSink that holds resources.
type Sink interface {
	guard.AlertSink
	io.Closer
}

type nopSink struct{}

func (nopSink) Publish(guard.ThreatAlert) error { return nil }
func (nopSink) Close() error                    { return nil }

// NewSinkFromConfig creates the alert sink selected by cfg.Alerts.Sink.
func NewSinkFromConfig(cfg *config.Config, logger guard.Logger) (Sink, error) {
	switch cfg.Alerts.Sink {
	case "log", "":
		s, err := NewFileSink(filepath.Join(cfg.LogDir, AlertsFileName))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "nats":
		s, err := NewNATSSink(cfg.Alerts.NATSURL, cfg.Alerts.NATSSubject, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "none":
		return nopSink{}, nil
	default:
		return nil, fmt.Errorf("unknown alert sink: %q", cfg.Alerts.Sink)
	}
}
