package sessions

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/example/agent-chat/domain/chat"
)

// fakeConn records delivered frames in place of a real WebSocket connection.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), data...))
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

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func startTestHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		hub.Wait()
	})
	return hub, cancel
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestHubDeliverToRegisteredUser(t *testing.T) {
	hub, _ := startTestHub(t)

	conn := &fakeConn{}
	hub.Register("user-1", "UTC", conn)
	waitFor(t, func() bool { return hub.IsConnected("user-1") }, "session never registered")

	hub.Deliver("user-1", domain.MessageFrame(domain.Message{
		Sender: domain.SenderAgent, Content: "hello", Files: []domain.FileRef{}, Timestamp: 1,
	}))
	waitFor(t, func() bool { return conn.frameCount() == 1 }, "frame never delivered")

	conn.mu.Lock()
	payload := string(conn.frames[0])
	conn.mu.Unlock()
	if !strings.Contains(payload, `"content":"hello"`) {
		t.Errorf("delivered frame %s missing content", payload)
	}
}

func TestHubDeliverToUnknownUserIsDropped(t *testing.T) {
	hub, _ := startTestHub(t)

	hub.Deliver("nobody", domain.StatusFrame(domain.Status{Content: "Thinking...", Icon: "⏳"}))

	// Nothing to observe beyond the hub staying alive.
	conn := &fakeConn{}
	hub.Register("user-1", "UTC", conn)
	waitFor(t, func() bool { return hub.IsConnected("user-1") }, "hub stopped processing after dropped delivery")
}

func TestHubReplacesExistingSession(t *testing.T) {
	hub, _ := startTestHub(t)

	first := &fakeConn{}
	hub.Register("user-1", "UTC", first)
	waitFor(t, func() bool { return hub.IsConnected("user-1") }, "first session never registered")

	second := &fakeConn{}
	hub.Register("user-1", "UTC", second)
	waitFor(t, first.isClosed, "previous session never closed on replacement")

	if hub.SessionCount() != 1 {
		t.Fatalf("session count %d, want 1", hub.SessionCount())
	}

	hub.Deliver("user-1", domain.MessageFrame(domain.Message{
		Sender: domain.SenderAgent, Content: "after replace", Files: []domain.FileRef{}, Timestamp: 2,
	}))
	waitFor(t, func() bool { return second.frameCount() == 1 }, "replacement session never received")

	if first.frameCount() != 0 {
		t.Errorf("replaced session received %d frames", first.frameCount())
	}
}

func TestHubReleaseRemovesSession(t *testing.T) {
	hub, _ := startTestHub(t)

	conn := &fakeConn{}
	handle := hub.Register("user-1", "UTC", conn)
	waitFor(t, func() bool { return hub.IsConnected("user-1") }, "session never registered")

	handle.Release()
	waitFor(t, func() bool { return !hub.IsConnected("user-1") }, "session never released")
}

func TestHubStaleReleaseKeepsReplacement(t *testing.T) {
	hub, _ := startTestHub(t)

	first := &fakeConn{}
	firstHandle := hub.Register("user-1", "UTC", first)
	waitFor(t, func() bool { return hub.IsConnected("user-1") }, "first session never registered")

	second := &fakeConn{}
	hub.Register("user-1", "UTC", second)
	waitFor(t, first.isClosed, "previous session never closed on replacement")

	// The old handler's deferred release must not evict the new session.
	firstHandle.Release()
	time.Sleep(20 * time.Millisecond)

	if !hub.IsConnected("user-1") {
		t.Fatal("stale release evicted the replacement session")
	}
}

// contendedConn flags overlapping writers on the raw connection, which only
// supports one at a time.
type contendedConn struct {
	active  int32
	overlap int32
	writes  int32
}

func (c *contendedConn) WriteMessage(_ int, _ []byte) error {
	if atomic.AddInt32(&c.active, 1) > 1 {
		atomic.StoreInt32(&c.overlap, 1)
	}
	time.Sleep(50 * time.Microsecond)
	atomic.AddInt32(&c.active, -1)
	atomic.AddInt32(&c.writes, 1)
	return nil
}

func (c *contendedConn) Close() error { return nil }

func TestSafeConnSerializesWriters(t *testing.T) {
	raw := &contendedConn{}
	conn := NewSafeConn(raw)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_ = conn.WriteMessage(1, []byte("frame"))
			}
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&raw.overlap) != 0 {
		t.Fatal("writers overlapped on the underlying connection")
	}
	if got := atomic.LoadInt32(&raw.writes); got != 200 {
		t.Fatalf("got %d writes, want 200", got)
	}
}

func TestHubDeliverySharesWriteLockWithHandler(t *testing.T) {
	hub, _ := startTestHub(t)

	raw := &contendedConn{}
	conn := NewSafeConn(raw)
	hub.Register("user-1", "UTC", conn)
	waitFor(t, func() bool { return hub.IsConnected("user-1") }, "session never registered")

	frame := domain.ErrorFrame(domain.CodeRateLimited, "Too many messages.")

	// Handler-side writes (error frames from the read loop) race against hub
	// deliveries to the same connection.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_ = conn.WriteMessage(1, []byte("error frame"))
		}
	}()
	for i := 0; i < 50; i++ {
		hub.Deliver("user-1", frame)
	}
	<-done

	waitFor(t, func() bool { return atomic.LoadInt32(&raw.writes) == 100 }, "not all frames written")
	if atomic.LoadInt32(&raw.overlap) != 0 {
		t.Fatal("hub delivery overlapped a handler write")
	}
}

func TestHubShutdownClosesSessions(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	conn := &fakeConn{}
	hub.Register("user-1", "UTC", conn)
	waitFor(t, func() bool { return hub.IsConnected("user-1") }, "session never registered")

	cancel()
	hub.Wait()

	if !conn.isClosed() {
		t.Error("session connection left open after shutdown")
	}
	if hub.SessionCount() != 0 {
		t.Errorf("session count after shutdown: %d", hub.SessionCount())
	}
}
