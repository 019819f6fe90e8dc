package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"medguard/internal/guard"
)

// FileSink appends each alert as one JSON line to a file.
type FileSink struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

var _ guard.AlertSink = (*FileSink)(nil)

// NewFileSink opens path for appending, creating it and its directory if needed.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating alert log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening alert log: %w", err)
	}
	return &FileSink{f: f, path: path}, nil
}

// Path returns the alert log location.
func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Publish(alert guard.ThreatAlert) error {
	line, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encoding alert: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("writing alert: %w", err)
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
