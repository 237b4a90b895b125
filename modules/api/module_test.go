package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/example/agent-chat/modules/auth"
	"github.com/example/agent-chat/modules/chat"
	"github.com/example/agent-chat/modules/files"
	"github.com/example/agent-chat/modules/sessions"
)

// apiFixture wires an APIModule to real in-memory backends so handlers can be
// exercised through app.Test without opening a port.
type apiFixture struct {
	module *APIModule
	auth   *auth.AuthModule
	hub    *sessions.Hub
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	t.Setenv("ALLOW_DEV_TOKENS", "1")
	t.Setenv("DB_PATH", ":memory:")
	t.Setenv("JWT_SECRET", "test-secret")

	authModule := auth.NewModule()

	chatModule := chat.NewModule()
	if err := chatModule.Start(context.Background()); err != nil {
		t.Fatalf("failed to start transcript store: %v", err)
	}
	t.Cleanup(func() { _ = chatModule.Stop(context.Background()) })

	hub := sessions.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		hub.Wait()
	})

	m := NewModule()
	m.SetAuth(authModule)
	m.SetTranscript(chatModule)
	m.SetFiles(files.NewService(files.NewMemoryObjectStore()))
	m.SetHub(hub)

	m.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler,
	})
	m.setupRoutes()

	return &apiFixture{module: m, auth: authModule, hub: hub}
}

// token mints a dev access token for the given user.
func (f *apiFixture) token(t *testing.T, userID string) string {
	t.Helper()
	token, ok := f.auth.MintDevToken(userID)
	if !ok {
		t.Fatal("dev token minting disabled")
	}
	return token
}

// do runs one request through the Fiber app.
func (f *apiFixture) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := f.module.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
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
