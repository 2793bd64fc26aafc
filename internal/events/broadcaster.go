// Package events implements the server side of the push channel: a per-user
// registry of live connections, the wire framing for state-change events,
// and fan-out with heartbeats and dead-connection pruning.
package events

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrConnectionCap is returned by Subscribe when the user already holds the
// maximum number of simultaneous connections.
var ErrConnectionCap = errors.New("connection cap reached")

// Defaults for Options.
const (
	DefaultMaxConnsPerUser   = 3
	DefaultHeartbeatInterval = 25 * time.Second
)

// Conn is an opaque writable handle to one live push transport. The
// broadcaster owns a Conn from Subscribe until write failure or Unsubscribe.
type Conn interface {
	WriteFrame(frame []byte) error
	Close() error
}

// Options configures a Broadcaster.
type Options struct {
	// MaxConnsPerUser caps simultaneous connections per user id.
	MaxConnsPerUser int
	// HeartbeatInterval is the keep-alive period; 0 disables heartbeats.
	HeartbeatInterval time.Duration
	// GenerateID produces event ids. Defaults to random UUIDs.
	GenerateID func() string
	Logger     *zap.Logger
}

// Receipt reports the outcome of one Publish call.
type Receipt struct {
	EventID   string
	Delivered int
}

type connState struct {
	conn Conn
	// writeMu serializes frame writes so heartbeats cannot interleave
	// with published events.
	writeMu sync.Mutex
	stop    chan struct{}
	once    sync.Once
}

func (cs *connState) write(frame []byte) error {
	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()
	return cs.conn.WriteFrame(frame)
}

func (cs *connState) shutdown() {
	cs.once.Do(func() { close(cs.stop) })
}

// Broadcaster fans state-change events out to a user's open push
// connections. All registry state is owned here; other components interact
// only through Subscribe, Unsubscribe, and Publish.
type Broadcaster struct {
	opts   Options
	logger *zap.Logger

	mu    sync.Mutex
	users map[string]map[Conn]*connState
}

// NewBroadcaster creates a Broadcaster with the given options.
func NewBroadcaster(opts Options) *Broadcaster {
	if opts.MaxConnsPerUser <= 0 {
		opts.MaxConnsPerUser = DefaultMaxConnsPerUser
	}
	if opts.GenerateID == nil {
		opts.GenerateID = func() string { return uuid.New().String() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		opts:   opts,
		logger: logger,
		users:  make(map[string]map[Conn]*connState),
	}
}

// Subscribe registers a connection for a user. It returns ErrConnectionCap
// if the user is already at the connection limit. When heartbeats are
// enabled a keep-alive frame is written periodically; a failed heartbeat
// write unsubscribes the connection.
func (b *Broadcaster) Subscribe(userID string, conn Conn) error {
	b.mu.Lock()
	conns := b.users[userID]
	if len(conns) >= b.opts.MaxConnsPerUser {
		b.mu.Unlock()
		b.logger.Debug("subscribe rejected: connection cap",
			zap.String("user", userID),
			zap.Int("cap", b.opts.MaxConnsPerUser),
		)
		return ErrConnectionCap
	}
	if conns == nil {
		conns = make(map[Conn]*connState)
		b.users[userID] = conns
	}
	cs := &connState{conn: conn, stop: make(chan struct{})}
	conns[conn] = cs
	b.mu.Unlock()

	if b.opts.HeartbeatInterval > 0 {
		go b.heartbeat(userID, cs)
	}

	b.logger.Debug("connection subscribed", zap.String("user", userID))
	return nil
}

// heartbeat writes keep-alive frames until the connection is unsubscribed
// or a write fails.
func (b *Broadcaster) heartbeat(userID string, cs *connState) {
	ticker := time.NewTicker(b.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cs.stop:
			return
		case <-ticker.C:
			if err := cs.write(Heartbeat); err != nil {
				b.logger.Debug("heartbeat write failed, unsubscribing",
					zap.String("user", userID),
					zap.Error(err),
				)
				b.Unsubscribe(userID, cs.conn)
				return
			}
		}
	}
}

// Unsubscribe removes a connection. It is idempotent: unsubscribing an
// unknown connection is a no-op. The user's registry entry is dropped once
// its last connection is gone.
func (b *Broadcaster) Unsubscribe(userID string, conn Conn) {
	b.mu.Lock()
	conns, ok := b.users[userID]
	if !ok {
		b.mu.Unlock()
		return
	}
	cs, ok := conns[conn]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(b.users, userID)
	}
	b.mu.Unlock()

	cs.shutdown()
	_ = conn.Close()
	b.logger.Debug("connection unsubscribed", zap.String("user", userID))
}

// Publish builds one frame for the event and writes it to every live
// connection the user holds. Connections whose write fails are pruned as a
// side effect; write failures are never surfaced to the publisher. The
// receipt reports how many connections received the frame.
func (b *Broadcaster) Publish(userID, event string, payload any) (Receipt, error) {
	id := b.opts.GenerateID()
	frame, err := Frame(event, id, payload)
	if err != nil {
		return Receipt{}, err
	}

	b.mu.Lock()
	states := make([]*connState, 0, len(b.users[userID]))
	for _, cs := range b.users[userID] {
		states = append(states, cs)
	}
	b.mu.Unlock()

	delivered := 0
	for _, cs := range states {
		if werr := cs.write(frame); werr != nil {
			b.logger.Debug("event write failed, pruning connection",
				zap.String("user", userID),
				zap.String("event", event),
				zap.Error(werr),
			)
			b.Unsubscribe(userID, cs.conn)
			continue
		}
		delivered++
	}

	b.logger.Debug("event published",
		zap.String("user", userID),
		zap.String("event", event),
		zap.String("eventId", id),
		zap.Int("delivered", delivered),
	)
	return Receipt{EventID: id, Delivered: delivered}, nil
}

// ConnCount returns how many live connections a user holds.
func (b *Broadcaster) ConnCount(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.users[userID])
}

// Close tears the broadcaster down: every connection is stopped and closed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	users := b.users
	b.users = make(map[string]map[Conn]*connState)
	b.mu.Unlock()

	for _, conns := range users {
		for conn, cs := range conns {
			cs.shutdown()
			_ = conn.Close()
		}
	}
}
