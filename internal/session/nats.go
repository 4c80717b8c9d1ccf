package session

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject the auth service publishes session events on.
const DefaultSubject = "auth.session"

// Event is the wire format of a session event.
type Event struct {
	Event string `json:"event"` // "login" or "logout"
	User  *User  `json:"user,omitempty"`
}

// NATSBridge applies session events received over NATS to a Signal.
type NATSBridge struct {
	signal *Signal
	logger *slog.Logger
	sub    *nats.Subscription
}

// NewNATSBridge creates a bridge; call Subscribe to start receiving.
func NewNATSBridge(signal *Signal, logger *slog.Logger) *NATSBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSBridge{signal: signal, logger: logger}
}

// Subscribe starts delivering events from subject on nc.
func (b *NATSBridge) Subscribe(nc *nats.Conn, subject string) error {
	if subject == "" {
		subject = DefaultSubject
	}
	sub, err := nc.Subscribe(subject, b.HandleMsg)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	b.sub = sub
	b.logger.Info("listening for session events", "subject", subject)
	return nil
}

// Close stops receiving events.
func (b *NATSBridge) Close() error {
	if b.sub == nil {
		return nil
	}
	return b.sub.Unsubscribe()
}

// HandleMsg decodes one event and applies it. Malformed events are logged and
// dropped.
func (b *NATSBridge) HandleMsg(msg *nats.Msg) {
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		b.logger.Warn("ignoring malformed session event", "subject", msg.Subject, "error", err)
		return
	}

	switch ev.Event {
	case "login":
		if ev.User == nil || ev.User.ID == "" {
			b.logger.Warn("ignoring login event without user", "subject", msg.Subject)
			return
		}
		b.logger.Info("session login", "user_id", ev.User.ID)
		b.signal.Set(ev.User)
	case "logout":
		b.logger.Info("session logout")
		b.signal.Set(nil)
	default:
		b.logger.Warn("ignoring unknown session event", "event", ev.Event)
	}
}
