package events

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeConn records written frames and can be told to fail writes.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	failAt int // fail writes once this many frames were accepted; -1 never
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{failAt: -1}
}

func (c *fakeConn) WriteFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAt >= 0 && len(c.frames) >= c.failAt {
		return errors.New("write failed")
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	c.frames = append(c.frames, cp)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) lastFrame() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return nil
	}
	return c.frames[len(c.frames)-1]
}

func newTestBroadcaster(opts Options) *Broadcaster {
	if opts.GenerateID == nil {
		n := 0
		opts.GenerateID = func() string {
			n++
			return fmt.Sprintf("ev-%d", n)
		}
	}
	return NewBroadcaster(opts)
}

func TestConnectionCap(t *testing.T) {
	b := newTestBroadcaster(Options{MaxConnsPerUser: 3})
	defer b.Close()

	conns := make([]*fakeConn, 0, 4)
	for i := 0; i < 3; i++ {
		c := newFakeConn()
		conns = append(conns, c)
		if err := b.Subscribe("alice", c); err != nil {
			t.Fatalf("subscribe %d failed: %v", i, err)
		}
	}

	// The 4th subscribe is rejected and not registered.
	fourth := newFakeConn()
	if err := b.Subscribe("alice", fourth); !errors.Is(err, ErrConnectionCap) {
		t.Fatalf("expected ErrConnectionCap, got %v", err)
	}
	if b.ConnCount("alice") != 3 {
		t.Errorf("expected 3 connections, got %d", b.ConnCount("alice"))
	}

	// Publish still delivers to exactly the 3 registered connections.
	receipt, err := b.Publish("alice", AnalysisComplete, map[string]any{"photoId": "p1"})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if receipt.Delivered != 3 {
		t.Errorf("expected delivery to 3 connections, got %d", receipt.Delivered)
	}
	for i, c := range conns {
		if c.frameCount() != 1 {
			t.Errorf("conn %d: expected 1 frame, got %d", i, c.frameCount())
		}
	}
	if fourth.frameCount() != 0 {
		t.Error("rejected connection must not receive frames")
	}
}

func TestCapIsPerUser(t *testing.T) {
	b := newTestBroadcaster(Options{MaxConnsPerUser: 1})
	defer b.Close()

	if err := b.Subscribe("alice", newFakeConn()); err != nil {
		t.Fatalf("alice subscribe failed: %v", err)
	}
	if err := b.Subscribe("bob", newFakeConn()); err != nil {
		t.Fatalf("bob subscribe failed: %v", err)
	}
}

func TestPublishNoConnections(t *testing.T) {
	b := newTestBroadcaster(Options{})
	defer b.Close()

	receipt, err := b.Publish("nobody", AnalysisComplete, nil)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if receipt.Delivered != 0 {
		t.Errorf("expected 0 deliveries, got %d", receipt.Delivered)
	}
	if receipt.EventID == "" {
		t.Error("an event id is generated even with no connections")
	}
}

func TestPublishOneIDPerCall(t *testing.T) {
	b := newTestBroadcaster(Options{})
	defer b.Close()

	c1, c2 := newFakeConn(), newFakeConn()
	if err := b.Subscribe("alice", c1); err != nil {
		t.Fatal(err)
	}
	if err := b.Subscribe("alice", c2); err != nil {
		t.Fatal(err)
	}

	receipt, err := b.Publish("alice", AnalysisStarted, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(c1.lastFrame(), c2.lastFrame()) {
		t.Error("both connections must receive the identical frame")
	}
	if !bytes.Contains(c1.lastFrame(), []byte(receipt.EventID)) {
		t.Error("frame must carry the receipt's event id")
	}
}

func TestWriteFailurePrunesConnection(t *testing.T) {
	b := newTestBroadcaster(Options{})
	defer b.Close()

	good := newFakeConn()
	bad := newFakeConn()
	bad.failAt = 0

	if err := b.Subscribe("alice", good); err != nil {
		t.Fatal(err)
	}
	if err := b.Subscribe("alice", bad); err != nil {
		t.Fatal(err)
	}

	receipt, err := b.Publish("alice", AnalysisComplete, nil)
	if err != nil {
		t.Fatalf("publish must not surface write failures: %v", err)
	}
	if receipt.Delivered != 1 {
		t.Errorf("expected 1 delivery, got %d", receipt.Delivered)
	}
	if b.ConnCount("alice") != 1 {
		t.Errorf("dead connection should be pruned, have %d", b.ConnCount("alice"))
	}
	if !bad.closed {
		t.Error("pruned connection should be closed")
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	b := newTestBroadcaster(Options{})
	defer b.Close()

	c := newFakeConn()
	if err := b.Subscribe("alice", c); err != nil {
		t.Fatal(err)
	}
	b.Unsubscribe("alice", c)
	b.Unsubscribe("alice", c) // no-op
	b.Unsubscribe("ghost", c) // no-op

	if b.ConnCount("alice") != 0 {
		t.Errorf("expected 0 connections, got %d", b.ConnCount("alice"))
	}

	// The slot freed by unsubscribe is reusable.
	if err := b.Subscribe("alice", newFakeConn()); err != nil {
		t.Fatalf("resubscribe failed: %v", err)
	}
}

func TestHeartbeat(t *testing.T) {
	b := newTestBroadcaster(Options{HeartbeatInterval: 5 * time.Millisecond})
	defer b.Close()

	c := newFakeConn()
	if err := b.Subscribe("alice", c); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return c.frameCount() >= 2 }, "heartbeat frames")
	if !bytes.Equal(c.lastFrame(), Heartbeat) {
		t.Errorf("expected heartbeat frame, got %q", c.lastFrame())
	}
}

func TestHeartbeatFailureUnsubscribes(t *testing.T) {
	b := newTestBroadcaster(Options{HeartbeatInterval: 5 * time.Millisecond})
	defer b.Close()

	c := newFakeConn()
	c.failAt = 0
	if err := b.Subscribe("alice", c); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return b.ConnCount("alice") == 0 }, "unsubscribe after failed heartbeat")
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
