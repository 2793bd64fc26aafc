// Package stream implements the client side of the push channel: a
// connector that keeps one connection open per session, deduplicates
// redelivered events, and backs off with jitter when the stream fails.
package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Inouye165/React-Photo-App-sub008/internal/backoff"
	"github.com/Inouye165/React-Photo-App-sub008/internal/dedupe"
	"github.com/Inouye165/React-Photo-App-sub008/internal/events"
)

// DefaultFailureThreshold is the number of consecutive connect failures
// after which the sink is told to fall back to polling.
const DefaultFailureThreshold = 3

// caps the backoff exponent so delays stay bounded during long outages
const maxBackoffAttempt = 8

// Sink receives parsed events and stream-failure notifications; in practice
// it is the delivery coordinator.
type Sink interface {
	HandleEvent(ev events.Event)
	// StreamDown is called once per outage, after the failure threshold is
	// reached and before the next reconnect attempt is scheduled.
	StreamDown()
}

// FrameReader is one live push connection from the client's point of view.
type FrameReader interface {
	ReadFrame() ([]byte, error)
	Close() error
}

// Dialer opens push connections. Injectable so tests can drive the
// connector without a network.
type Dialer interface {
	Dial(ctx context.Context, url, userID string) (FrameReader, error)
}

// Options configures a Connector.
type Options struct {
	URL    string
	UserID string
	Sink   Sink
	// Dialer defaults to a gorilla/websocket dialer.
	Dialer Dialer
	// DedupeCapacity bounds the seen-event cache; 0 picks the default.
	DedupeCapacity int
	// FailureThreshold triggers the polling fallback; 0 picks the default.
	FailureThreshold int
	Backoff          backoff.Options
	// Health is shared with the polling manager; created if nil.
	Health *Health
	Logger *zap.Logger
}

// Connector consumes the push stream for one session. Run blocks until the
// context is cancelled; reconnection continues indefinitely so the stream
// can supersede polling again after an outage.
type Connector struct {
	opts   Options
	health *Health
	dedupe *dedupe.Cache
	logger *zap.Logger
}

// NewConnector creates a Connector. The sink is required.
func NewConnector(opts Options) *Connector {
	if opts.Dialer == nil {
		opts.Dialer = &WSDialer{}
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	health := opts.Health
	if health == nil {
		health = &Health{}
	}
	return &Connector{
		opts:   opts,
		health: health,
		dedupe: dedupe.New(opts.DedupeCapacity),
		logger: logger,
	}
}

// Health exposes the connector's stream-health state for the polling
// manager and the coordinator.
func (c *Connector) Health() *Health {
	return c.health
}

// Run connects, consumes frames, and reconnects with backoff until ctx is
// cancelled.
func (c *Connector) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.opts.Dialer.Dial(ctx, c.opts.URL, c.opts.UserID)
		if err != nil {
			c.logger.Debug("stream connect failed", zap.Error(err))
			if !c.failAndWait(ctx) {
				return
			}
			continue
		}

		c.consume(ctx, conn)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		if !c.failAndWait(ctx) {
			return
		}
	}
}

// consume reads frames until the connection drops. The first frame of any
// kind (heartbeats included) marks the stream healthy and resets the
// failure counter.
func (c *Connector) consume(ctx context.Context, conn FrameReader) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Debug("stream read failed", zap.Error(err))
			}
			return
		}
		c.health.markActive()

		ev, ok, perr := events.ParseFrame(frame)
		if perr != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(perr))
			continue
		}
		if !ok {
			// Heartbeat; liveness already recorded.
			continue
		}

		if c.dedupe.Has(ev.ID) {
			c.logger.Debug("dropping duplicate event", zap.String("eventId", ev.ID))
			continue
		}
		c.dedupe.Add(ev.ID)
		c.opts.Sink.HandleEvent(ev)
	}
}

// failAndWait records one failure, fires the fallback notification at the
// threshold, and sleeps the reconnect delay. Returns false when ctx is done.
func (c *Connector) failAndWait(ctx context.Context) bool {
	failures := c.health.markDown()
	if failures == c.opts.FailureThreshold {
		c.logger.Info("stream failure threshold reached, falling back to polling",
			zap.Int("failures", failures),
		)
		c.opts.Sink.StreamDown()
	}

	attempt := failures - 1
	if attempt > maxBackoffAttempt {
		attempt = maxBackoffAttempt
	}
	delay := backoff.Delay(attempt, c.opts.Backoff)
	c.logger.Debug("scheduling reconnect",
		zap.Int("attempt", failures),
		zap.Duration("delay", delay),
	)

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// WSDialer opens WebSocket push connections.
type WSDialer struct {
	// Dialer is used when set; otherwise websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

type wsFrameReader struct {
	conn *websocket.Conn
}

func (r *wsFrameReader) ReadFrame() ([]byte, error) {
	_, data, err := r.conn.ReadMessage()
	return data, err
}

func (r *wsFrameReader) Close() error {
	return r.conn.Close()
}

// Dial opens the subscribe endpoint as a WebSocket, passing the
// authenticated user id.
func (d *WSDialer) Dial(ctx context.Context, url, userID string) (FrameReader, error) {
	wd := d.Dialer
	if wd == nil {
		wd = websocket.DefaultDialer
	}
	header := http.Header{}
	header.Set("X-User-ID", userID)
	conn, resp, err := wd.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, err
	}
	return &wsFrameReader{conn: conn}, nil
}
