package notify

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"medguard/internal/config"
	"medguard/internal/guard"
)

func testAlert(id string) guard.ThreatAlert {
	return guard.ThreatAlert{
		ID:          id,
		Timestamp:   time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Score:       90,
		Reasons:     []string{"suspicious extensions: 3 files"},
		Description: "suspicious extensions: 3 files",
		FilePath:    "/data/scan.dcm.locked",
		ThreatType:  guard.ThreatTypeRansomware,
	}
}

type fakePublisher struct {
	msgs []*nats.Msg
	err  error
}

func (f *fakePublisher) PublishMsg(msg *nats.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func TestNATSSink_Publish(t *testing.T) {
	t.Run("encodes alert with headers", func(t *testing.T) {
		pub := &fakePublisher{}
		s := NewNATSSinkWithPublisher(pub, "", guard.NewNopLogger())

		if err := s.Publish(testAlert("alert-1")); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		if len(pub.msgs) != 1 {
			t.Fatalf("published %d messages, want 1", len(pub.msgs))
		}
		msg := pub.msgs[0]
		if msg.Subject != DefaultSubject {
			t.Errorf("Subject = %q, want %q", msg.Subject, DefaultSubject)
		}
		if msg.Header.Get("x-alert-id") != "alert-1" || msg.Header.Get("x-score") != "90" {
			t.Errorf("headers = %v", msg.Header)
		}

		var got guard.ThreatAlert
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("decoding message: %v", err)
		}
		if got.FilePath != "/data/scan.dcm.locked" || got.ThreatType != guard.ThreatTypeRansomware {
			t.Errorf("decoded alert = %+v", got)
		}
	})

	t.Run("wraps publish errors", func(t *testing.T) {
		boom := errors.New("connection closed")
		s := NewNATSSinkWithPublisher(&fakePublisher{err: boom}, "alerts", guard.NewNopLogger())
		if err := s.Publish(testAlert("alert-2")); !errors.Is(err, boom) {
			t.Errorf("Publish() error = %v, want wrapped %v", err, boom)
		}
	})

	t.Run("close without connection", func(t *testing.T) {
		s := NewNATSSinkWithPublisher(&fakePublisher{}, "alerts", guard.NewNopLogger())
		if err := s.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", AlertsFileName)
	s, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}
	for _, id := range []string{"a1", "a2"} {
		if err := s.Publish(testAlert(id)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening alert log: %v", err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var a guard.ThreatAlert
		if err := json.Unmarshal(scanner.Bytes(), &a); err != nil {
			t.Fatalf("decoding line: %v", err)
		}
		ids = append(ids, a.ID)
	}
	if len(ids) != 2 || ids[0] != "a1" || ids[1] != "a2" {
		t.Errorf("alert ids = %v, want [a1 a2]", ids)
	}
}

func TestNewSinkFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		sink    string
		wantErr bool
	}{
		{"default is file log", "", false},
		{"file log", "log", false},
		{"disabled", "none", false},
		{"unknown", "carrier-pigeon", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewConfig(t.TempDir())
			cfg.LogDir = t.TempDir()
			cfg.Alerts.Sink = tt.sink

			s, err := NewSinkFromConfig(cfg, guard.NewNopLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewSinkFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				if err := s.Publish(testAlert("x")); err != nil {
					t.Errorf("Publish() error = %v", err)
				}
				s.Close()
			}
		})
	}
}
