package notify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"medguard/internal/guard"
)

// DefaultSubject is the subject alerts are published on when none is configured.
const DefaultSubject = "medguard.alerts"

const (
	connectTimeout = 10 * time.Second
	reconnectWait  = 5 * time.Second
	maxReconnects  = 10
)

// MsgPublisher is the subset of *nats.Conn used by NATSSink.
type MsgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// NATSSink publishes every alert as a JSON message.
type NATSSink struct {
	pub     MsgPublisher
	conn    *nats.Conn // nil when constructed over a custom publisher
	subject string
	logger  guard.Logger
}

var _ guard.AlertSink = (*NATSSink)(nil)

// NewNATSSink connects to url and returns a sink publishing on subject.
// The client reconnects on its own after the initial connection succeeds.
func NewNATSSink(url, subject string, logger guard.Logger) (*NATSSink, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url,
		nats.Name("medguard"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from nats", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to nats", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}

	s := NewNATSSinkWithPublisher(conn, subject, logger)
	s.conn = conn
	logger.Info("alert sink connected", "url", url, "subject", s.subject)
	return s, nil
}

// NewNATSSinkWithPublisher creates a sink over an existing publisher.
func NewNATSSinkWithPublisher(pub MsgPublisher, subject string, logger guard.Logger) *NATSSink {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSSink{pub: pub, subject: subject, logger: logger}
}

// Publish sends alert with its identity in the message headers.
func (s *NATSSink) Publish(alert guard.ThreatAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encoding alert: %w", err)
	}

	msg := nats.NewMsg(s.subject)
	msg.Data = data
	msg.Header.Set("x-alert-id", alert.ID)
	msg.Header.Set("x-threat-type", alert.ThreatType)
	msg.Header.Set("x-score", strconv.Itoa(alert.Score))

	if err := s.pub.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing alert %s: %w", alert.ID, err)
	}
	s.logger.Debug("alert published", "alert_id", alert.ID, "subject", s.subject)
	return nil
}

// Close flushes pending messages and closes the connection.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return fmt.Errorf("draining nats connection: %w", err)
	}
	return nil
}
