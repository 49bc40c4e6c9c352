package sub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chainspend/gas-tracker/internal/registry"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

type (
	JetStreamSubOpts struct {
		Endpoint    string
		StreamName  string
		Durable     string
		TenantID    string
		Registry    registry.Registry
		Logg        *slog.Logger
	}

	JetStreamSub struct {
		js         jetstream.JetStream
		natsConn   *nats.Conn
		registry   registry.Registry
		logg       *slog.Logger
		streamName string
		durable    string
		tenantID   string
	}
)

// retryBackoff is the fixed wait between subscription rebuild attempts
// after a stream-level failure.
const retryBackoff = 2 * time.Second

func NewJetStreamSub(o JetStreamSubOpts) (*JetStreamSub, error) {
	natsConn, err := nats.Connect(o.Endpoint,
		nats.Name(o.Durable),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			o.Logg.Warn("NATS watch subscription disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			o.Logg.Info("NATS watch subscription reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("NATS connect: %w", err)
	}

	js, err := jetstream.New(natsConn)
	if err != nil {
		natsConn.Close()
		return nil, fmt.Errorf("JetStream init: %w", err)
	}

	return &JetStreamSub{
		js:         js,
		natsConn:   natsConn,
		registry:   o.Registry,
		logg:       o.Logg,
		streamName: o.StreamName,
		durable:    o.Durable,
		tenantID:   o.TenantID,
	}, nil
}

// Start consumes watch-change events until the context is cancelled. Any
// stream-level failure tears the consumer down, waits retryBackoff and
// rebuilds; the subscription never terminates the process.
func (s *JetStreamSub) Start(ctx context.Context) {
	for {
		if err := s.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logg.Error("watch subscription failed, retrying", "error", err, "backoff", retryBackoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(retryBackoff):
		}
	}
}

func (s *JetStreamSub) Stop() {
	if s.natsConn != nil {
		s.natsConn.Close()
	}
}

func (s *JetStreamSub) consume(ctx context.Context) error {
	setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// CreateOrUpdateStream is idempotent; it lets the tracker start before
	// the API service has published its first watch request.
	_, err := s.js.CreateOrUpdateStream(setupCtx, jetstream.StreamConfig{
		Name:     s.streamName,
		Subjects: []string{s.streamName + ".*"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create/update watch stream %q: %w", s.streamName, err)
	}

	cons, err := s.js.CreateOrUpdateConsumer(setupCtx, s.streamName, jetstream.ConsumerConfig{
		Durable:       s.durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create/update watch consumer %q: %w", s.durable, err)
	}

	iter, err := cons.Messages()
	if err != nil {
		return fmt.Errorf("watch consumer messages: %w", err)
	}

	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
		}
		iter.Stop()
	}()
	defer close(stopped)

	for {
		msg, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("watch consumer next: %w", err)
		}

		// Apply before ack: a crash in between redelivers the event, which
		// is safe because add/remove are idempotent.
		if err := applyWatchRequest(ctx, s.registry, s.tenantID, msg.Data(), s.logg); err != nil {
			s.logg.Error("could not apply watch request", "error", err)
			continue
		}

		if err := msg.Ack(); err != nil {
			s.logg.Warn("watch request ack failed", "error", err)
		}
	}
}
