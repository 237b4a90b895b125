package client

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	domain "github.com/example/agent-chat/domain/chat"
)

// ErrClosed is returned by operations on a connector that was torn down.
var ErrClosed = errors.New("connector closed")

// Channel is the persistent bidirectional transport carrying JSON frames.
type Channel interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Channel against a ticketed URL.
type Dialer interface {
	Dial(ctx context.Context, channelURL string) (Channel, error)
}

// SessionAPI covers the plain HTTP calls the connector makes outside the
// channel: ticket acquisition and history clearing.
type SessionAPI interface {
	RequestTicket(ctx context.Context, accessToken string) (string, error)
	ClearHistory(ctx context.Context, accessToken string) error
}

// StagedFile is a not-yet-uploaded file attached to an outgoing message.
type StagedFile struct {
	Filename string
	MimeType string
	Data     []byte
}

// FileStore uploads staged files and returns stable references.
type FileStore interface {
	Upload(ctx context.Context, accessToken string, file StagedFile) (domain.FileRef, error)
}

// Config configures a Connector.
type Config struct {
	// WSBaseURL is the channel base, e.g. "ws://localhost:3000".
	WSBaseURL string
	// Timezone is the client's IANA timezone, sent once at connect time.
	Timezone string

	Dialer   Dialer
	API      SessionAPI
	Files    FileStore
	Notifier Notifier
	Logger   *slog.Logger
}

// Connector maintains one chat session: at most one live channel per valid
// access token, a transcript fed by inbound frames, and a send operation
// with integrated file upload.
//
// All lifecycle transitions, channel callbacks and timer callbacks run on a
// single internal goroutine, so they never race each other.
type Connector struct {
	cfg   Config
	model *model

	actions chan func()
	done    chan struct{}
	once    sync.Once

	// Owned by the run loop.
	machine    Machine
	token      string
	ticket     string
	gen        int
	ch         Channel
	retryTimer *time.Timer

	// Snapshot for reads from other goroutines.
	snapMu    sync.RWMutex
	snapState State
	snapToken string
}

// New creates a connector and starts its run loop. The connector stays Idle
// until SetToken provides an access token.
func New(cfg Config) *Connector {
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}

	c := &Connector{
		cfg:     cfg,
		model:   newModel(),
		actions: make(chan func(), 64),
		done:    make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Connector) run() {
	for {
		select {
		case fn := <-c.actions:
			fn()
		case <-c.done:
			return
		}
	}
}

// post queues fn onto the run loop; it is dropped if the connector closed.
func (c *Connector) post(fn func()) {
	select {
	case c.actions <- fn:
	case <-c.done:
	}
}

// SetToken reacts to the access token changing value. A new token tears down
// any connection ticketed against the previous one and reconnects; an empty
// token returns the connector to Idle.
func (c *Connector) SetToken(token string) {
	c.post(func() {
		if token == c.token && token != "" {
			return
		}
		c.token = token
		if token == "" {
			c.dispatch(EventTokenCleared)
		} else {
			c.dispatch(EventTokenSet)
		}
	})
}

// Close tears the connector down for good: the pending retry timer is
// cancelled and the channel closed without retry.
func (c *Connector) Close() {
	c.once.Do(func() {
		ready := make(chan struct{})
		c.post(func() {
			c.dispatch(EventShutdown)
			close(ready)
		})
		select {
		case <-ready:
		case <-time.After(time.Second):
		}
		close(c.done)
	})
}

// State returns the current lifecycle state.
func (c *Connector) State() State {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snapState
}

// IsConnected reports whether the channel is open.
func (c *Connector) IsConnected() bool {
	return c.State() == StateOpen
}

// Transcript returns a copy of the current transcript in order.
func (c *Connector) Transcript() []domain.Message {
	return c.model.Messages()
}

// Status returns the transient status indicator, if one is active.
func (c *Connector) Status() (domain.Status, bool) {
	return c.model.Status()
}

// accessToken returns the governing token for HTTP collaborator calls.
func (c *Connector) accessToken() string {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snapToken
}

// dispatch advances the state machine and performs the requested effects.
// Must run on the loop goroutine.
func (c *Connector) dispatch(ev Event) {
	switch ev {
	case EventTokenSet, EventTokenCleared, EventShutdown:
		// Invalidate callbacks from any in-flight ticket request, dial or
		// reader; their results are discarded when they land.
		c.gen++
	}

	prev := c.machine.State
	effects := c.machine.Step(ev)
	if c.machine.State != prev {
		c.cfg.Logger.Debug("Connection state changed",
			"from", prev.String(), "to", c.machine.State.String())
	}

	c.snapMu.Lock()
	c.snapState = c.machine.State
	c.snapToken = c.token
	c.snapMu.Unlock()

	for _, effect := range effects {
		c.perform(effect)
	}
}

func (c *Connector) perform(effect Effect) {
	switch effect.Kind {
	case EffectRequestTicket:
		c.requestTicket()
	case EffectDial:
		c.dial()
	case EffectScheduleRetry:
		c.scheduleRetry(effect.Delay)
	case EffectCancelRetry:
		if c.retryTimer != nil {
			c.retryTimer.Stop()
			c.retryTimer = nil
		}
	case EffectCloseChannel:
		if c.ch != nil {
			_ = c.ch.Close()
			c.ch = nil
		}
	}
}

func (c *Connector) requestTicket() {
	c.gen++
	gen := c.gen
	token := c.token

	go func() {
		// No explicit timeout: a stalled request holds the machine in
		// Ticketing until the transport gives up.
		ticket, err := c.cfg.API.RequestTicket(context.Background(), token)
		c.post(func() {
			if gen != c.gen {
				return
			}
			if err != nil {
				c.cfg.Logger.Warn("Ticket request failed", "error", err)
				c.dispatch(EventTicketFailed)
				return
			}
			c.ticket = ticket
			c.dispatch(EventTicketIssued)
		})
	}()
}

func (c *Connector) dial() {
	gen := c.gen
	channelURL := c.channelURL(c.ticket)

	go func() {
		ch, err := c.cfg.Dialer.Dial(context.Background(), channelURL)
		c.post(func() {
			if gen != c.gen {
				// The attempt was torn down while dialing; don't leak the
				// connection.
				if err == nil {
					_ = ch.Close()
				}
				return
			}
			if err != nil {
				c.cfg.Logger.Warn("Channel dial failed", "error", err)
				c.dispatch(EventDialFailed)
				return
			}
			c.ch = ch
			c.startReader(gen, ch)
			c.dispatch(EventDialSucceeded)
		})
	}()
}

// channelURL builds the ticketed channel URL with the client timezone.
func (c *Connector) channelURL(ticket string) string {
	query := url.Values{}
	query.Set("ticket", ticket)
	query.Set("timezone", c.cfg.Timezone)
	return c.cfg.WSBaseURL + "/ws/chat?" + query.Encode()
}

func (c *Connector) scheduleRetry(delay time.Duration) {
	gen := c.gen
	c.retryTimer = time.AfterFunc(delay, func() {
		c.post(func() {
			if gen != c.gen {
				return
			}
			c.retryTimer = nil
			c.dispatch(EventRetryElapsed)
		})
	})
}

// startReader pumps inbound frames from the channel into the run loop until
// the channel fails. Frames are processed strictly in delivery order.
func (c *Connector) startReader(gen int, ch Channel) {
	go func() {
		for {
			data, err := ch.ReadMessage()
			if err != nil {
				c.post(func() {
					if gen != c.gen {
						return
					}
					c.cfg.Logger.Info("Channel closed", "error", err)
					c.ch = nil
					c.dispatch(EventChannelClosed)
				})
				return
			}
			c.post(func() {
				if gen != c.gen {
					return
				}
				frame, err := domain.DecodeFrame(data)
				if err != nil {
					c.cfg.Logger.Warn("Dropping malformed frame", "error", err)
					return
				}
				c.model.Apply(frame, c.cfg.Notifier, c.cfg.Logger)
			})
		}
	}()
}
