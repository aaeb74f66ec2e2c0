// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tomtom215/adscout/internal/config"
	"github.com/tomtom215/adscout/internal/logging"
	"github.com/tomtom215/adscout/internal/metrics"
)

const (
	natsMaxReconnects   = 10
	natsReconnectWait   = 2 * time.Second
	natsReconnectBuffer = 8 * 1024 * 1024
)

// NATSNotifier publishes run lifecycle events over NATS via Watermill.
// Publishing is fire-and-forget with connection-level retry; a failed
// publish surfaces as a returned error that callers log and discard.
type NATSNotifier struct {
	publisher message.Publisher
	prefix    string

	mu     sync.RWMutex
	closed bool
}

// NewNATSNotifier connects to the NATS server at url and returns a
// notifier publishing under cfg.SubjectPrefix. The url parameter wins
// over cfg.URL so an embedded server's client URL can be injected.
func NewNATSNotifier(cfg *config.NATSConfig, url string) (*NATSNotifier, error) {
	if url == "" {
		url = cfg.URL
	}
	wmLogger := newWatermillLogger()

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(natsMaxReconnects),
		natsgo.ReconnectWait(natsReconnectWait),
		natsgo.ReconnectBufSize(natsReconnectBuffer),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled: true,
		},
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS publisher: %w", err)
	}

	return &NATSNotifier{publisher: pub, prefix: cfg.SubjectPrefix}, nil
}

// PublishRunFinished implements Notifier. The subject encodes the
// terminal status, e.g. "adscout.runs.completed".
func (n *NATSNotifier) PublishRunFinished(_ context.Context, event RunEvent) error {
	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		return fmt.Errorf("notifier is closed")
	}
	n.mu.RUnlock()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal run event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	msg.Metadata.Set("tenant", event.Tenant)
	msg.Metadata.Set("run_id", fmt.Sprintf("%d", event.RunID))

	subject := fmt.Sprintf("%s.runs.%s", n.prefix, event.FinalStatus)
	if err := n.publisher.Publish(subject, msg); err != nil {
		return fmt.Errorf("failed to publish run event on %s: %w", subject, err)
	}
	metrics.EventsPublished.WithLabelValues(subject).Inc()
	return nil
}

// Close implements Notifier.
func (n *NATSNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	return n.publisher.Close()
}

var _ Notifier = (*NATSNotifier)(nil)

// watermillLogger bridges Watermill's LoggerAdapter onto zerolog.
type watermillLogger struct {
	fields watermill.LogFields
}

func newWatermillLogger() watermill.LoggerAdapter {
	return &watermillLogger{}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(logging.Error().Err(err), fields).Msg(msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.event(logging.Info(), fields).Msg(msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{fields: l.fields.Add(fields)}
}

func (l *watermillLogger) event(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range l.fields {
		e = e.Interface(k, v)
	}
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}
