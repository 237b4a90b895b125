package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"

	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"

	domain "github.com/example/agent-chat/domain/chat"
)

// HTTPSessionAPI implements SessionAPI and FileStore against the gateway's
// REST surface using fasthttp.
type HTTPSessionAPI struct {
	baseURL string
	client  *fasthttp.Client
}

var _ SessionAPI = (*HTTPSessionAPI)(nil)
var _ FileStore = (*HTTPSessionAPI)(nil)

// NewHTTPSessionAPI creates an HTTP collaborator client for the given base
// URL, e.g. "http://localhost:3000".
func NewHTTPSessionAPI(baseURL string) *HTTPSessionAPI {
	return &HTTPSessionAPI{
		baseURL: baseURL,
		client:  &fasthttp.Client{},
	}
}

// RequestTicket exchanges the bearer token for a one-time connection ticket.
func (a *HTTPSessionAPI) RequestTicket(_ context.Context, accessToken string) (string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(a.baseURL + "/auth/ticket")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	if err := a.client.Do(req, resp); err != nil {
		return "", fmt.Errorf("ticket request failed: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return "", fmt.Errorf("ticket request rejected: status %d", resp.StatusCode())
	}

	var body struct {
		Ticket string `json:"ticket"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", fmt.Errorf("malformed ticket response: %w", err)
	}
	if body.Ticket == "" {
		return "", fmt.Errorf("ticket response missing ticket")
	}
	return body.Ticket, nil
}

// ClearHistory asks the backend to drop the stored transcript.
func (a *HTTPSessionAPI) ClearHistory(_ context.Context, accessToken string) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(a.baseURL + "/chat/clear")
	req.Header.SetMethod(fasthttp.MethodDelete)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	if err := a.client.Do(req, resp); err != nil {
		return fmt.Errorf("clear request failed: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("clear request rejected: status %d", resp.StatusCode())
	}
	return nil
}

// Upload sends one staged file as multipart form data and returns the
// resulting file reference.
func (a *HTTPSessionAPI) Upload(_ context.Context, accessToken string, file StagedFile) (domain.FileRef, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Filename))
	if file.MimeType != "" {
		header.Set("Content-Type", file.MimeType)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		return domain.FileRef{}, fmt.Errorf("failed to build upload body: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return domain.FileRef{}, fmt.Errorf("failed to build upload body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return domain.FileRef{}, fmt.Errorf("failed to build upload body: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(a.baseURL + "/files")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.SetContentType(writer.FormDataContentType())
	req.SetBody(body.Bytes())

	if err := a.client.Do(req, resp); err != nil {
		return domain.FileRef{}, fmt.Errorf("upload failed: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return domain.FileRef{}, fmt.Errorf("upload rejected: status %d", resp.StatusCode())
	}

	var ref domain.FileRef
	if err := json.Unmarshal(resp.Body(), &ref); err != nil {
		return domain.FileRef{}, fmt.Errorf("malformed upload response: %w", err)
	}
	return ref, nil
}

// WebSocketDialer implements Dialer using the fasthttp WebSocket client.
type WebSocketDialer struct {
	dialer *websocket.Dialer
}

var _ Dialer = (*WebSocketDialer)(nil)

// NewWebSocketDialer creates the production channel dialer.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{
		dialer: websocket.DefaultDialer,
	}
}

// Dial opens the channel against a ticketed URL.
func (d *WebSocketDialer) Dial(ctx context.Context, channelURL string) (Channel, error) {
	conn, _, err := d.dialer.DialContext(ctx, channelURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial channel: %w", err)
	}
	return &wsChannel{conn: conn}, nil
}

// wsChannel adapts a websocket connection to the Channel interface.
type wsChannel struct {
	conn *websocket.Conn
}

func (c *wsChannel) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsChannel) WriteMessage(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsChannel) Close() error {
	return c.conn.Close()
}
