package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/example/agent-chat/domain/chat"
)

// fakeAPI serves tickets from a queue and records every request.
type fakeAPI struct {
	mu        sync.Mutex
	tickets   []string
	ticketErr error
	tokens    []string
	cleared   []string
	clearErr  error
}

func (a *fakeAPI) RequestTicket(_ context.Context, accessToken string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens = append(a.tokens, accessToken)
	if a.ticketErr != nil {
		return "", a.ticketErr
	}
	if len(a.tickets) == 0 {
		return "", errors.New("no ticket available")
	}
	ticket := a.tickets[0]
	a.tickets = a.tickets[1:]
	return ticket, nil
}

func (a *fakeAPI) ClearHistory(_ context.Context, accessToken string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.clearErr != nil {
		return a.clearErr
	}
	a.cleared = append(a.cleared, accessToken)
	return nil
}

func (a *fakeAPI) requestedTokens() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.tokens...)
}

// fakeDialer hands out fakeChannels and records every dialed URL.
type fakeDialer struct {
	mu       sync.Mutex
	err      error
	urls     []string
	channels []*fakeChannel
}

func (d *fakeDialer) Dial(_ context.Context, channelURL string) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, channelURL)
	if d.err != nil {
		return nil, d.err
	}
	ch := newFakeChannel()
	d.channels = append(d.channels, ch)
	return ch, nil
}

func (d *fakeDialer) dialedURLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

func (d *fakeDialer) channel(i int) *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.channels) {
		return nil
	}
	return d.channels[i]
}

// fakeChannel is an in-memory Channel. Reads block until a frame is pushed
// or the channel is closed.
type fakeChannel struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeChannel) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeChannel) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeChannel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeChannel) push(t *testing.T, frame domain.Frame) {
	t.Helper()
	data, err := domain.EncodeFrame(frame)
	if err != nil {
		t.Fatalf("failed to encode frame: %v", err)
	}
	c.inbound <- data
}

func (c *fakeChannel) pushRaw(data []byte) {
	c.inbound <- data
}

func (c *fakeChannel) writtenFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

// fakeFiles succeeds every upload except the configured filename.
type fakeFiles struct {
	mu      sync.Mutex
	failOn  string
	uploads []string
}

func (f *fakeFiles) Upload(_ context.Context, _ string, file StagedFile) (domain.FileRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if file.Filename == f.failOn {
		return domain.FileRef{}, errors.New("storage unavailable")
	}
	f.uploads = append(f.uploads, file.Filename)
	return domain.FileRef{
		Filename: file.Filename,
		Path:     "u1/obj/" + file.Filename,
		MimeType: file.MimeType,
		Size:     int64(len(file.Data)),
	}, nil
}

func (f *fakeFiles) uploaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uploads...)
}

// recordingNotifier collects notices for assertions.
type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *recordingNotifier) Notify(notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) all() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notice(nil), n.notices...)
}

type connectorFixture struct {
	connector *Connector
	api       *fakeAPI
	dialer    *fakeDialer
	files     *fakeFiles
	notifier  *recordingNotifier
}

func newConnectorFixture(t *testing.T, tickets ...string) *connectorFixture {
	t.Helper()

	f := &connectorFixture{
		api:      &fakeAPI{tickets: tickets},
		dialer:   &fakeDialer{},
		files:    &fakeFiles{},
		notifier: &recordingNotifier{},
	}
	f.connector = New(Config{
		WSBaseURL: "ws://localhost:3000",
		Timezone:  "Europe/Berlin",
		Dialer:    f.dialer,
		API:       f.api,
		Files:     f.files,
		Notifier:  f.notifier,
	})
	t.Cleanup(f.connector.Close)
	return f
}

// waitFor polls cond until it holds or the deadline passes.
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

func TestConnectorConnectsWithTicketedURL(t *testing.T) {
	f := newConnectorFixture(t, "t1")

	f.connector.SetToken("token-a")
	waitFor(t, f.connector.IsConnected, "connector never reached open")

	urls := f.dialer.dialedURLs()
	if len(urls) != 1 {
		t.Fatalf("expected exactly one dial, got %d", len(urls))
	}
	want := "ws://localhost:3000/ws/chat?ticket=t1&timezone=Europe%2FBerlin"
	if urls[0] != want {
		t.Errorf("dialed %q, want %q", urls[0], want)
	}
	if tokens := f.api.requestedTokens(); len(tokens) != 1 || tokens[0] != "token-a" {
		t.Errorf("ticket requested with tokens %v, want [token-a]", tokens)
	}
}

func TestConnectorSameTokenIsNoOp(t *testing.T) {
	f := newConnectorFixture(t, "t1", "t2")

	f.connector.SetToken("token-a")
	waitFor(t, f.connector.IsConnected, "connector never reached open")

	f.connector.SetToken("token-a")
	time.Sleep(50 * time.Millisecond)

	if urls := f.dialer.dialedURLs(); len(urls) != 1 {
		t.Fatalf("redundant token set caused a redial: %d dials", len(urls))
	}
	if f.dialer.channel(0).isClosed() {
		t.Error("redundant token set closed the live channel")
	}
}

func TestConnectorTokenChangeReticketsAndRedials(t *testing.T) {
	f := newConnectorFixture(t, "t1", "t2")

	f.connector.SetToken("token-a")
	waitFor(t, f.connector.IsConnected, "connector never reached open")
	first := f.dialer.channel(0)

	f.connector.SetToken("token-b")
	waitFor(t, func() bool {
		return len(f.dialer.dialedURLs()) == 2 && f.connector.IsConnected()
	}, "connector never reconnected after token change")

	if !first.isClosed() {
		t.Error("old channel left open after token change")
	}
	urls := f.dialer.dialedURLs()
	if !strings.Contains(urls[1], "ticket=t2") {
		t.Errorf("second dial used URL %q, want fresh ticket t2", urls[1])
	}
	tokens := f.api.requestedTokens()
	if len(tokens) != 2 || tokens[1] != "token-b" {
		t.Errorf("ticket requests used tokens %v, want [token-a token-b]", tokens)
	}
}

func TestConnectorTokenClearedDisconnects(t *testing.T) {
	f := newConnectorFixture(t, "t1")

	f.connector.SetToken("token-a")
	waitFor(t, f.connector.IsConnected, "connector never reached open")

	f.connector.SetToken("")
	waitFor(t, func() bool { return f.connector.State() == StateIdle }, "connector never returned to idle")

	if !f.dialer.channel(0).isClosed() {
		t.Error("channel left open after token cleared")
	}
}

func TestConnectorTicketFailureBacksOff(t *testing.T) {
	f := newConnectorFixture(t)
	f.api.ticketErr = errors.New("401 unauthorized")

	f.connector.SetToken("token-a")
	waitFor(t, func() bool { return f.connector.State() == StateBackoff }, "connector never entered backoff")

	if urls := f.dialer.dialedURLs(); len(urls) != 0 {
		t.Errorf("dialed %d times without a ticket", len(urls))
	}
}

func TestConnectorChannelDropEntersBackoff(t *testing.T) {
	f := newConnectorFixture(t, "t1")

	f.connector.SetToken("token-a")
	waitFor(t, f.connector.IsConnected, "connector never reached open")

	f.dialer.channel(0).Close()
	waitFor(t, func() bool { return f.connector.State() == StateBackoff }, "connector never entered backoff after drop")
}

func TestConnectorHistoryReplacesAndMessagesAppend(t *testing.T) {
	f := newConnectorFixture(t, "t1")

	f.connector.SetToken("token-a")
	waitFor(t, f.connector.IsConnected, "connector never reached open")
	ch := f.dialer.channel(0)

	history := []domain.Message{
		{Sender: domain.SenderUser, Content: "hello", Files: []domain.FileRef{}, Timestamp: 1},
		{Sender: domain.SenderAgent, Content: "hi there", Files: []domain.FileRef{}, Timestamp: 2},
	}
	ch.push(t, domain.HistoryFrame(history))
	waitFor(t, func() bool { return len(f.connector.Transcript()) == 2 }, "history never applied")

	ch.push(t, domain.MessageFrame(domain.Message{
		Sender: domain.SenderAgent, Content: "anything else?", Files: []domain.FileRef{}, Timestamp: 3,
	}))
	waitFor(t, func() bool { return len(f.connector.Transcript()) == 3 }, "message never appended")

	got := f.connector.Transcript()
	if got[0].Content != "hello" || got[2].Content != "anything else?" {
		t.Errorf("transcript out of order: %+v", got)
	}

	// A later history frame replaces everything accumulated so far.
	ch.push(t, domain.HistoryFrame(history[:1]))
	waitFor(t, func() bool { return len(f.connector.Transcript()) == 1 }, "history never replaced transcript")
}

func TestConnectorStatusFrameLifecycle(t *testing.T) {
	f := newConnectorFixture(t, "t1")

	f.connector.SetToken("token-a")
	waitFor(t, f.connector.IsConnected, "connector never reached open")
	ch := f.dialer.channel(0)

	ch.push(t, domain.StatusFrame(domain.Status{Content: "Thinking...", Icon: "⏳"}))
	waitFor(t, func() bool {
		status, ok := f.connector.Status()
		return ok && status.Content == "Thinking..."
	}, "status never surfaced")

	// The next message supersedes the indicator.
	ch.push(t, domain.MessageFrame(domain.Message{
		Sender: domain.SenderAgent, Content: "done", Files: []domain.FileRef{}, Timestamp: 5,
	}))
	waitFor(t, func() bool {
		_, ok := f.connector.Status()
		return !ok
	}, "status never cleared by message")
}

func TestConnectorErrorFrameNotifies(t *testing.T) {
	tests := []struct {
		name  string
		frame domain.Frame
		want  NoticeKind
	}{
		{
			name:  "auth required",
			frame: domain.ErrorFrame(domain.CodeAuthRequired, "Session expired. Please sign in again."),
			want:  NoticeSessionExpired,
		},
		{
			name:  "rate limited",
			frame: domain.ErrorFrame(domain.CodeRateLimited, "Too many messages. Please slow down."),
			want:  NoticeError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newConnectorFixture(t, "t1")
			f.connector.SetToken("token-a")
			waitFor(t, f.connector.IsConnected, "connector never reached open")

			f.dialer.channel(0).push(t, tt.frame)
			waitFor(t, func() bool { return len(f.notifier.all()) == 1 }, "error frame never notified")

			notice := f.notifier.all()[0]
			if notice.Kind != tt.want {
				t.Errorf("notice kind %d, want %d", notice.Kind, tt.want)
			}
			if notice.Text != tt.frame.Content {
				t.Errorf("notice text %q, want %q", notice.Text, tt.frame.Content)
			}
		})
	}
}

func TestConnectorIgnoresUnrecognizedFrames(t *testing.T) {
	f := newConnectorFixture(t, "t1")

	f.connector.SetToken("token-a")
	waitFor(t, f.connector.IsConnected, "connector never reached open")
	ch := f.dialer.channel(0)

	ch.pushRaw([]byte(`{"type":"typing","content":"..."}`))
	ch.pushRaw([]byte(`not json at all`))

	// A known frame after the junk proves the session survived it.
	ch.push(t, domain.MessageFrame(domain.Message{
		Sender: domain.SenderAgent, Content: "still here", Files: []domain.FileRef{}, Timestamp: 9,
	}))
	waitFor(t, func() bool { return len(f.connector.Transcript()) == 1 }, "session did not survive junk frames")

	if !f.connector.IsConnected() {
		t.Error("unrecognized frames dropped the connection")
	}
	if notices := f.notifier.all(); len(notices) != 0 {
		t.Errorf("unrecognized frames produced notices: %+v", notices)
	}
}

func TestConnectorSendEchoesAndTransmits(t *testing.T) {
	f := newConnectorFixture(t, "t1")

	f.connector.SetToken("token-a")
	waitFor(t, f.connector.IsConnected, "connector never reached open")
	ch := f.dialer.channel(0)

	if err := f.connector.Send(context.Background(), "hello", nil, nil); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	transcript := f.connector.Transcript()
	if len(transcript) != 1 {
		t.Fatalf("expected one echoed message, got %d", len(transcript))
	}
	if transcript[0].Sender != domain.SenderUser || transcript[0].Content != "hello" {
		t.Errorf("unexpected echo: %+v", transcript[0])
	}

	frames := ch.writtenFrames()
	if len(frames) != 1 {
		t.Fatalf("expected one transmitted frame, got %d", len(frames))
	}
	payload := string(frames[0])
	for _, want := range []string{`"type":"message"`, `"sender":"user"`, `"content":"hello"`, `"files":[]`} {
		if !strings.Contains(payload, want) {
			t.Errorf("transmitted frame %s missing %s", payload, want)
		}
	}
}

func TestConnectorSendUploadsBeforeEcho(t *testing.T) {
	f := newConnectorFixture(t, "t1")

	f.connector.SetToken("token-a")
	waitFor(t, f.connector.IsConnected, "connector never reached open")

	staged := []StagedFile{
		{Filename: "a.txt", MimeType: "text/plain", Data: []byte("aaa")},
		{Filename: "b.txt", MimeType: "text/plain", Data: []byte("bbbb")},
	}
	if err := f.connector.Send(context.Background(), "see attached", staged, nil); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if got := f.files.uploaded(); len(got) != 2 || got[0] != "a.txt" || got[1] != "b.txt" {
		t.Errorf("uploads out of order: %v", got)
	}

	transcript := f.connector.Transcript()
	if len(transcript) != 1 {
		t.Fatalf("expected one echoed message, got %d", len(transcript))
	}
	if len(transcript[0].Files) != 2 {
		t.Fatalf("echoed message carries %d files, want 2", len(transcript[0].Files))
	}
	if transcript[0].Files[1].Size != 4 {
		t.Errorf("file reference size %d, want 4", transcript[0].Files[1].Size)
	}
}

func TestConnectorSendAbortsOnUploadFailure(t *testing.T) {
	f := newConnectorFixture(t, "t1")
	f.files.failOn = "b.txt"

	f.connector.SetToken("token-a")
	waitFor(t, f.connector.IsConnected, "connector never reached open")
	ch := f.dialer.channel(0)

	staged := []StagedFile{
		{Filename: "a.txt", MimeType: "text/plain", Data: []byte("aaa")},
		{Filename: "b.txt", MimeType: "text/plain", Data: []byte("bbb")},
		{Filename: "c.txt", MimeType: "text/plain", Data: []byte("ccc")},
	}
	err := f.connector.Send(context.Background(), "see attached", staged, nil)
	if err == nil {
		t.Fatal("send succeeded despite upload failure")
	}

	// All-or-nothing: nothing echoed, nothing transmitted, later files never
	// attempted.
	if transcript := f.connector.Transcript(); len(transcript) != 0 {
		t.Errorf("aborted send reached the transcript: %+v", transcript)
	}
	if frames := ch.writtenFrames(); len(frames) != 0 {
		t.Errorf("aborted send transmitted %d frames", len(frames))
	}
	if got := f.files.uploaded(); len(got) != 1 || got[0] != "a.txt" {
		t.Errorf("uploads after failure: %v, want only a.txt", got)
	}
	if _, ok := f.connector.Status(); ok {
		t.Error("uploading status left behind after abort")
	}

	notices := f.notifier.all()
	if len(notices) != 1 || notices[0].Kind != NoticeUploadFailed {
		t.Errorf("expected one upload-failed notice, got %+v", notices)
	}
}

func TestConnectorSendMergesReferencedFiles(t *testing.T) {
	f := newConnectorFixture(t, "t1")

	f.connector.SetToken("token-a")
	waitFor(t, f.connector.IsConnected, "connector never reached open")

	staged := []StagedFile{{Filename: "new.txt", MimeType: "text/plain", Data: []byte("n")}}
	referenced := []domain.FileRef{{Filename: "old.txt", Path: "u1/obj/old.txt", MimeType: "text/plain", Size: 3}}

	if err := f.connector.Send(context.Background(), "both", staged, referenced); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	transcript := f.connector.Transcript()
	files := transcript[0].Files
	if len(files) != 2 || files[0].Filename != "new.txt" || files[1].Filename != "old.txt" {
		t.Errorf("unexpected file order: %+v", files)
	}
}

func TestConnectorSendWhileDisconnected(t *testing.T) {
	f := newConnectorFixture(t)

	err := f.connector.Send(context.Background(), "hello", nil, nil)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if got := f.files.uploaded(); len(got) != 0 {
		t.Errorf("disconnected send uploaded files: %v", got)
	}

	notices := f.notifier.all()
	if len(notices) != 1 || notices[0].Kind != NoticeConnectionLost {
		t.Errorf("expected one connection-lost notice, got %+v", notices)
	}
}

func TestConnectorClearHistory(t *testing.T) {
	f := newConnectorFixture(t, "t1")

	f.connector.SetToken("token-a")
	waitFor(t, f.connector.IsConnected, "connector never reached open")
	ch := f.dialer.channel(0)

	ch.push(t, domain.HistoryFrame([]domain.Message{
		{Sender: domain.SenderUser, Content: "hello", Files: []domain.FileRef{}, Timestamp: 1},
	}))
	waitFor(t, func() bool { return len(f.connector.Transcript()) == 1 }, "history never applied")

	if err := f.connector.ClearHistory(context.Background()); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if transcript := f.connector.Transcript(); len(transcript) != 0 {
		t.Errorf("transcript not emptied: %+v", transcript)
	}

	// Clearing again is harmless.
	if err := f.connector.ClearHistory(context.Background()); err != nil {
		t.Fatalf("second clear failed: %v", err)
	}
}

func TestConnectorClearHistoryFailureKeepsTranscript(t *testing.T) {
	f := newConnectorFixture(t, "t1")
	f.api.clearErr = errors.New("503 unavailable")

	f.connector.SetToken("token-a")
	waitFor(t, f.connector.IsConnected, "connector never reached open")

	f.dialer.channel(0).push(t, domain.HistoryFrame([]domain.Message{
		{Sender: domain.SenderUser, Content: "hello", Files: []domain.FileRef{}, Timestamp: 1},
	}))
	waitFor(t, func() bool { return len(f.connector.Transcript()) == 1 }, "history never applied")

	if err := f.connector.ClearHistory(context.Background()); err == nil {
		t.Fatal("clear succeeded despite backend failure")
	}
	if transcript := f.connector.Transcript(); len(transcript) != 1 {
		t.Errorf("failed clear changed the transcript: %+v", transcript)
	}
}

func TestConnectorCloseIsTerminal(t *testing.T) {
	f := newConnectorFixture(t, "t1")

	f.connector.SetToken("token-a")
	waitFor(t, f.connector.IsConnected, "connector never reached open")
	ch := f.dialer.channel(0)

	f.connector.Close()

	if !ch.isClosed() {
		t.Error("channel left open after close")
	}
	if f.connector.State() != StateClosed {
		t.Errorf("state after close: %s", f.connector.State())
	}

	// Post-close operations fail fast instead of hanging.
	if err := f.connector.Send(context.Background(), "too late", nil, nil); err == nil {
		t.Error("send succeeded after close")
	}
}
