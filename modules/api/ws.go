package api

import (
	"log/slog"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	domain "github.com/example/agent-chat/domain/chat"
	"github.com/example/agent-chat/modules/sessions"
)

// Per-session message rate limit.
const (
	messagesPerMinute = 10
	messageBurst      = 10
)

const localTimezone = "timezone"

// redeemTicket consumes the single-use ticket from the query string before
// the WebSocket upgrade. The long-lived bearer token never appears in a URL.
func (m *APIModule) redeemTicket(c *fiber.Ctx) error {
	ticket := c.Query("ticket")
	if ticket == "" {
		return fiber.ErrUnauthorized
	}

	userID, err := m.auth.RedeemTicket(c.UserContext(), ticket)
	if err != nil {
		return fiber.ErrUnauthorized
	}

	timezone := c.Query("timezone")
	if timezone == "" {
		timezone = "UTC"
	}

	c.Locals(localUserID, userID)
	c.Locals(localTimezone, timezone)
	return c.Next()
}

// handleChatSocket adapts the upgraded connection and hands it to the session
// loop. All writes go through a SafeConn shared with the hub; the connection
// supports only one concurrent writer.
func (m *APIModule) handleChatSocket(c *websocket.Conn) {
	userID := c.Locals(localUserID).(string)
	timezone := c.Locals(localTimezone).(string)

	read := func() ([]byte, error) {
		_, data, err := c.ReadMessage()
		return data, err
	}
	m.serveChat(sessions.NewSafeConn(c), read, userID, timezone)
}

// serveChat runs one chat session: send the transcript as a single history
// frame, register with the hub, then accept user message frames until the
// channel closes.
func (m *APIModule) serveChat(conn *sessions.SafeConn, read func() ([]byte, error), userID, timezone string) {
	logger := slog.Default().With("userID", userID)
	defer func() {
		conn.Close()
		logger.Info("Chat session closed")
	}()

	logger.Info("Chat session opened", "timezone", timezone)

	// History goes out before the hub learns about the session, so no
	// delivered frame can ever precede it.
	if !m.sendHistory(conn, userID, logger) {
		return
	}

	handle := m.hub.Register(userID, timezone, conn)
	defer handle.Release()

	limiter := rate.NewLimiter(rate.Limit(float64(messagesPerMinute)/60.0), messageBurst)

	for {
		data, err := read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Chat session read error", "error", err)
			}
			return
		}

		frame, err := domain.DecodeFrame(data)
		if err != nil {
			m.sendFrame(conn, domain.ErrorFrame("", "Invalid message format"))
			continue
		}

		if frame.Type != domain.FrameMessage {
			m.sendFrame(conn, domain.ErrorFrame("", "Unknown message type: "+frame.Type))
			continue
		}

		if !limiter.Allow() {
			logger.Warn("Session rate limit exceeded")
			m.sendFrame(conn, domain.ErrorFrame(
				domain.CodeRateLimited,
				"Too many messages. Please wait before sending more.",
			))
			continue
		}

		msg := frame.Message()
		msg.Sender = domain.SenderUser

		if err := m.transcript.AppendUserMessage(userID, timezone, msg); err != nil {
			logger.Error("Failed to accept message", "error", err)
			m.sendFrame(conn, domain.ErrorFrame("", "Failed to process message. Please try again."))
		}
	}
}

// sendHistory sends the one-time full-transcript frame that starts every
// session. Returns false when the write failed and the session should end.
func (m *APIModule) sendHistory(conn *sessions.SafeConn, userID string, logger *slog.Logger) bool {
	messages, err := m.transcript.History(userID)
	if err != nil {
		logger.Error("Failed to load history", "error", err)
		messages = nil
	}

	if err := m.sendFrame(conn, domain.HistoryFrame(messages)); err != nil {
		logger.Warn("Failed to send history", "error", err)
		return false
	}
	return true
}

func (m *APIModule) sendFrame(conn *sessions.SafeConn, frame domain.Frame) error {
	data, err := domain.EncodeFrame(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
