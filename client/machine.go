// Package client implements the chat session connector: it maintains one
// live WebSocket channel per valid access token, with single-use ticket
// authentication, automatic reconnection and optimistic local echo.
package client

import "time"

// Reconnect delays. Retries continue for the lifetime of the connector; the
// access token is refreshed externally, so a failing ticket request is
// expected to eventually succeed.
const (
	ticketRetryDelay = 5 * time.Second
	redialDelay      = 3 * time.Second
	reconnectDelay   = 3 * time.Second
)

// State is the connection lifecycle state.
type State int

const (
	// StateIdle: no access token available, no connection attempted.
	StateIdle State = iota
	// StateTicketing: exchanging the bearer token for a one-time ticket.
	StateTicketing
	// StateConnecting: dialing the channel with a ticketed URL.
	StateConnecting
	// StateOpen: channel ready for send/receive.
	StateOpen
	// StateBackoff: channel down, waiting out a retry delay.
	StateBackoff
	// StateClosed: torn down for good; no further transitions.
	StateClosed
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTicketing:
		return "ticketing"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateBackoff:
		return "backoff"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is an input to the connection state machine.
type Event int

const (
	// EventTokenSet: an access token became available or changed value.
	EventTokenSet Event = iota
	// EventTokenCleared: the access token went away.
	EventTokenCleared
	// EventTicketIssued: the ticket request succeeded.
	EventTicketIssued
	// EventTicketFailed: the ticket request failed (e.g. expired token).
	EventTicketFailed
	// EventDialSucceeded: the channel opened.
	EventDialSucceeded
	// EventDialFailed: the dial errored or closed before opening.
	EventDialFailed
	// EventChannelClosed: an open channel closed, whatever the cause.
	EventChannelClosed
	// EventRetryElapsed: the scheduled retry delay ran out.
	EventRetryElapsed
	// EventShutdown: the connector is being torn down.
	EventShutdown
)

// EffectKind tells the runtime what to do after a transition.
type EffectKind int

const (
	// EffectRequestTicket: exchange the current token for a ticket.
	EffectRequestTicket EffectKind = iota
	// EffectDial: open the channel with the issued ticket.
	EffectDial
	// EffectScheduleRetry: fire EventRetryElapsed after Delay.
	EffectScheduleRetry
	// EffectCancelRetry: cancel a pending retry timer.
	EffectCancelRetry
	// EffectCloseChannel: close the live channel.
	EffectCloseChannel
)

// Effect is one side effect requested by a transition.
type Effect struct {
	Kind  EffectKind
	Delay time.Duration
}

// Machine is the pure connection state machine. It holds no channels, timers
// or tokens; Step maps the current state and an event to the next state plus
// the effects the runtime must perform. This keeps every lifecycle decision
// unit-testable without a network.
type Machine struct {
	State State
}

// Step advances the machine and returns the effects to perform. Events that
// are not meaningful in the current state are ignored; stale results from a
// torn-down connection attempt fall out here.
func (m *Machine) Step(ev Event) []Effect {
	if m.State == StateClosed {
		return nil
	}

	switch ev {
	case EventShutdown:
		effects := m.teardownEffects()
		m.State = StateClosed
		return effects
	case EventTokenCleared:
		effects := m.teardownEffects()
		m.State = StateIdle
		return effects
	case EventTokenSet:
		// A token change invalidates any ticket or channel bound to the
		// previous token: tear down and re-ticket from scratch.
		effects := m.teardownEffects()
		m.State = StateTicketing
		return append(effects, Effect{Kind: EffectRequestTicket})
	}

	switch m.State {
	case StateTicketing:
		switch ev {
		case EventTicketIssued:
			m.State = StateConnecting
			return []Effect{{Kind: EffectDial}}
		case EventTicketFailed:
			m.State = StateBackoff
			return []Effect{{Kind: EffectScheduleRetry, Delay: ticketRetryDelay}}
		}
	case StateConnecting:
		switch ev {
		case EventDialSucceeded:
			m.State = StateOpen
			return nil
		case EventDialFailed:
			m.State = StateBackoff
			return []Effect{{Kind: EffectScheduleRetry, Delay: redialDelay}}
		}
	case StateOpen:
		if ev == EventChannelClosed {
			m.State = StateBackoff
			return []Effect{{Kind: EffectScheduleRetry, Delay: reconnectDelay}}
		}
	case StateBackoff:
		if ev == EventRetryElapsed {
			m.State = StateTicketing
			return []Effect{{Kind: EffectRequestTicket}}
		}
	}

	return nil
}

// teardownEffects returns the effects needed to leave the current state
// cleanly: cancel a pending retry, close a live or half-open channel.
func (m *Machine) teardownEffects() []Effect {
	switch m.State {
	case StateBackoff:
		return []Effect{{Kind: EffectCancelRetry}}
	case StateConnecting, StateOpen:
		return []Effect{{Kind: EffectCloseChannel}}
	default:
		return nil
	}
}
