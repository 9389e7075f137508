package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes events to a JetStream stream under
// "<subject>.<event type>", e.g. "lottery.draws.draw.settled".
type NATSPublisher struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
}

// ConnectNATS connects to the NATS servers, ensures a stream covering
// subject exists and returns a publisher.
func ConnectNATS(servers, subject string) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("lottery-engine"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Error("nats disconnected", "err", err)
			} else {
				slog.Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("nats reconnected")
		}),
	}

	nc, err := nats.Connect(servers, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	p := &NATSPublisher{nc: nc, js: js, subject: subject}
	if err := p.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	slog.Info("connected to nats", "servers", servers, "subject", subject)
	return p, nil
}

func streamName(subject string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "*", "_", ">", "_").Replace(subject))
}

func (p *NATSPublisher) ensureStream() error {
	name := streamName(p.subject)
	_, err := p.js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", name, err)
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:        name,
		Subjects:    []string{p.subject + ".>"},
		Retention:   nats.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Description: "Daily draw lifecycle events",
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	slog.Info("created jetstream stream", "stream", name, "subject", p.subject+".>")
	return nil
}

// Subject returns the full subject an event of type t is published on.
func (p *NATSPublisher) Subject(t Type) string {
	return p.subject + "." + string(t)
}

// Publish sends e to JetStream. The message ID deduplicates republished
// events within the stream's duplicate window.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("encode event", "type", e.Type, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	subject := p.Subject(e.Type)
	if _, err := p.js.Publish(subject, data, nats.Context(ctx), nats.MsgId(string(e.Type)+":"+e.PeriodID)); err != nil {
		slog.Error("publish event to nats", "subject", subject, "period", e.PeriodID, "err", err)
		return
	}
	slog.Debug("published event", "subject", subject, "period", e.PeriodID)
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
