package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix namespaces every published subject.
const DefaultSubjectPrefix = "docchat"

// Publisher forwards conversation lifecycle events to NATS. Per-unit reveal
// events stay in-process; they are far too chatty for the bus.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

func NewPublisher(url, token string, logger *slog.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("docchat"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Publisher{conn: nc, prefix: DefaultSubjectPrefix, logger: logger}, nil
}

// Subject returns the NATS subject an event kind is published on.
func Subject(prefix string, kind Kind) string {
	return prefix + "." + string(kind)
}

// Forwarded reports whether an event kind goes to the bus.
func Forwarded(kind Kind) bool {
	return kind != KindEntryRevealed
}

func (p *Publisher) Observe(e Event) {
	if !Forwarded(e.Kind) {
		return
	}
	if err := p.Publish(Subject(p.prefix, e.Kind), e); err != nil {
		p.logger.Warn("failed to publish event", "kind", e.Kind, "error", err)
	}
}

func (p *Publisher) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return p.conn.Publish(subject, payload)
}

func (p *Publisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
