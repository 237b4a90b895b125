package main

import (
	"context"
	"log"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
	"github.com/joho/godotenv"

	"github.com/example/agent-chat/modules/agent"
	"github.com/example/agent-chat/modules/api"
	"github.com/example/agent-chat/modules/auth"
	"github.com/example/agent-chat/modules/chat"
	"github.com/example/agent-chat/modules/files"
	"github.com/example/agent-chat/modules/sessions"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	log.Println("=== Agent Chat Gateway ===")

	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	// Create modules
	authModule := auth.NewModule()
	chatModule := chat.NewModule()
	agentModule := agent.NewModule(agent.NewEchoResponder())
	filesModule := files.NewModule()
	sessionsModule := sessions.NewModule()
	apiModule := api.NewModule()

	// Inject cross-module dependencies into the API module
	// (done manually because these are not exposed via ServiceContainer)
	apiModule.SetAuth(authModule)
	apiModule.SetTranscript(chatModule)
	apiModule.SetHub(sessionsModule.GetHub())

	// Register modules with the framework.
	// Order: independent modules first, then modules with dependencies
	app.Register(authModule)     // Token verification + tickets
	app.Register(chatModule)     // Transcript persistence + event emitter
	app.Register(agentModule)    // User message consumer / reply emitter
	app.Register(filesModule)    // Attachment storage
	app.Register(sessionsModule) // Session hub + event consumer
	app.Register(apiModule)      // HTTP/WebSocket surface

	// Start application
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	// The files service only exists after FilesModule.Start
	apiModule.SetFiles(filesModule.Service())

	printStartupInfo()

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Println("Architecture:")
	log.Println("  - HTTP Framework: Fiber with WebSocket support")
	log.Println("  - Event Bus: NATS JetStream (internal pubsub)")
	log.Printf("  - NATS URL: %s", natsURL)
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", port)
	log.Println("  GET    /health          - Health check")
	log.Println("  POST   /auth/ticket     - Issue single-use WebSocket ticket (Bearer)")
	log.Println("  DELETE /chat/clear      - Clear chat history (Bearer)")
	log.Println("  POST   /files           - Upload attachment (Bearer, multipart)")
	log.Println("  GET    /files           - List uploaded attachments (Bearer)")
	log.Println("  GET    /files/<path>    - Download attachment (Bearer)")
	log.Println("  DELETE /files/<path>    - Delete attachment (Bearer)")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws/chat):", port)
	log.Println("  Connect with: ws://localhost:3000/ws/chat?ticket=<ticket>&timezone=<IANA tz>")
	log.Println("  Frame types: history, message, status, error")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
