package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/runger/prizm/internal/logging"
	"github.com/runger/prizm/internal/suggestions/engine"
	"github.com/runger/prizm/internal/suggestions/event"
	"github.com/runger/prizm/internal/suggestions/metrics"
)

// drainBatch is the number of queued events applied per pop.
const drainBatch = 64

// ConnectNATS dials url with unlimited reconnects.
func ConnectNATS(url string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("prizmd"),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// Publisher sends a message to a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	// Subject is the inbound event subject; wildcards are allowed.
	Subject string

	// NotifySubject prefixes outbound transitions as <prefix>.<state>.
	// Empty disables notifications.
	NotifySubject string

	QueueSize int
	Logger    *slog.Logger
}

// Bridge connects the engine to NATS. Inbound world-state events are
// buffered in an IngestionQueue and applied in arrival order by Run;
// suggestion transitions are published as they happen.
type Bridge struct {
	conn   *nats.Conn
	pub    Publisher
	engine *engine.Engine
	cfg    BridgeConfig
	queue  *IngestionQueue
	logger *slog.Logger

	applied  atomic.Int64
	rejected atomic.Int64
}

// NewBridge creates a bridge. nc may be nil, in which case Run only drains
// events enqueued through Receive and pub receives notifications.
func NewBridge(nc *nats.Conn, pub Publisher, e *engine.Engine, cfg BridgeConfig) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if pub == nil && nc != nil {
		pub = nc
	}
	return &Bridge{
		conn:   nc,
		pub:    pub,
		engine: e,
		cfg:    cfg,
		queue:  NewIngestionQueue(cfg.QueueSize, cfg.Logger),
		logger: cfg.Logger,
	}
}

// Run subscribes and applies events until ctx is done. Events still queued
// at shutdown are applied before Run returns.
func (b *Bridge) Run(ctx context.Context) error {
	if b.conn != nil {
		sub, err := b.conn.Subscribe(b.cfg.Subject, b.Receive)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", b.cfg.Subject, err)
		}
		defer func() {
			if err := sub.Unsubscribe(); err != nil {
				b.logger.Warn("NATS unsubscribe failed", "error", err)
			}
		}()
		b.logger.Info("consuming events", "subject", b.cfg.Subject)
	}

	if b.pub != nil && b.cfg.NotifySubject != "" {
		unsubscribe := b.engine.Transitions().Subscribe("nats", b.notify)
		defer unsubscribe()
	}

	for {
		select {
		case <-ctx.Done():
			b.drain(context.WithoutCancel(ctx))
			return nil
		case <-b.queue.Ready():
			b.drain(ctx)
		}
	}
}

// Receive decodes a message and queues it. A payload without a type takes
// it from the last subject token, so prizm.events.action_completed needs
// only the fields.
func (b *Bridge) Receive(msg *nats.Msg) {
	var ev event.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		b.rejected.Add(1)
		logging.LogEventDropped(b.logger, "nats", "invalid JSON: "+err.Error())
		return
	}
	if ev.Type == "" {
		if i := strings.LastIndexByte(msg.Subject, '.'); i >= 0 && event.ValidType(msg.Subject[i+1:]) {
			ev.Type = event.Type(msg.Subject[i+1:])
		}
	}
	b.queue.Push(QueuedEvent{Event: ev, Source: msg.Subject, Received: time.Now()})
}

func (b *Bridge) drain(ctx context.Context) {
	for {
		batch := b.queue.Pop(drainBatch)
		if len(batch) == 0 {
			return
		}
		for _, q := range batch {
			if err := b.engine.HandleEvent(ctx, q.Event); err != nil {
				b.rejected.Add(1)
				logging.LogEventDropped(b.logger, q.Source, err.Error())
				continue
			}
			b.applied.Add(1)
		}
	}
}

func (b *Bridge) notify(_ context.Context, t event.Transition) {
	data, err := json.Marshal(t)
	if err != nil {
		b.logger.Warn("failed to encode transition", "suggestion_id", t.SuggestionID, "error", err)
		return
	}
	subject := b.cfg.NotifySubject + "." + string(t.To)
	if err := b.pub.Publish(subject, data); err != nil {
		b.logger.Warn("failed to publish transition", "subject", subject, "error", err)
	}
}

// BridgeStats counts inbound events.
type BridgeStats struct {
	Applied  int64
	Rejected int64
	Queue    QueueStats
}

// Stats returns inbound event counts.
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		Applied:  b.applied.Load(),
		Rejected: b.rejected.Load(),
		Queue:    b.queue.Stats(),
	}
}

func (b *Bridge) trackQueue(m *metrics.Metrics) {
	m.TrackQueue(
		func() float64 { return float64(b.queue.Len()) },
		func() float64 { return float64(b.queue.Stats().Dropped) },
	)
}
