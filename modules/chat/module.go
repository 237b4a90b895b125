package chat

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	domain "github.com/example/agent-chat/domain/chat"
	"github.com/example/agent-chat/events"
)

// TranscriptModule persists per-user conversation transcripts and publishes
// user messages onto the event bus for the agent module.
type TranscriptModule struct {
	db       *gorm.DB
	repo     *Repository
	eventBus mono.EventBus
	dbPath   string
}

// Compile-time interface checks.
var _ mono.Module = (*TranscriptModule)(nil)
var _ mono.EventBusAwareModule = (*TranscriptModule)(nil)
var _ mono.EventEmitterModule = (*TranscriptModule)(nil)
var _ mono.EventConsumerModule = (*TranscriptModule)(nil)
var _ mono.HealthCheckableModule = (*TranscriptModule)(nil)

// NewModule creates a new TranscriptModule.
func NewModule() *TranscriptModule {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "transcripts.db"
	}
	return &TranscriptModule{
		dbPath: dbPath,
	}
}

// Name returns the module name.
func (m *TranscriptModule) Name() string {
	return "chat"
}

// SetEventBus receives the EventBus from the framework.
func (m *TranscriptModule) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *TranscriptModule) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.UserMessageV1.ToBase(),
	}
}

// RegisterEventConsumers subscribes to agent replies so they land in the
// transcript alongside the user messages that triggered them.
func (m *TranscriptModule) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.AgentReplyV1, m.handleAgentReply, m,
	); err != nil {
		return fmt.Errorf("failed to register AgentReply consumer: %w", err)
	}

	log.Println("[chat] Registered event consumers: AgentReply")
	return nil
}

func (m *TranscriptModule) handleAgentReply(_ context.Context, event events.AgentReplyEvent, _ *mono.Msg) error {
	if err := m.repo.Append(event.UserID, event.Message); err != nil {
		log.Printf("[chat] Failed to persist agent reply for %s: %v", event.UserID, err)
		return err
	}
	return nil
}

// Start opens the database and migrates the schema.
func (m *TranscriptModule) Start(_ context.Context) error {
	db, err := gorm.Open(sqlite.Open(m.dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&TranscriptEntry{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	m.db = db
	m.repo = NewRepository(db)
	log.Printf("[chat] Module started - transcript store at %s", m.dbPath)
	return nil
}

// Stop closes the database.
func (m *TranscriptModule) Stop(_ context.Context) error {
	if m.db == nil {
		return nil
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health returns the health status.
func (m *TranscriptModule) Health(ctx context.Context) mono.HealthStatus {
	if m.db == nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: "database not initialized",
		}
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("failed to get sql.DB: %v", err),
		}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("database ping failed: %v", err),
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
	}
}

// AppendUserMessage persists a user message and publishes it for the agent.
// The message is durable before the event goes out, so a crashed agent can
// never observe a message that is missing from the transcript.
func (m *TranscriptModule) AppendUserMessage(userID, timezone string, msg domain.Message) error {
	if err := m.repo.Append(userID, msg); err != nil {
		return err
	}

	event := events.UserMessageEvent{
		UserID:   userID,
		Timezone: timezone,
		Message:  msg,
	}
	if err := events.UserMessageV1.Publish(m.eventBus, event, nil); err != nil {
		return fmt.Errorf("failed to publish user message: %w", err)
	}
	return nil
}

// History returns a user's transcript in insertion order.
func (m *TranscriptModule) History(userID string) ([]domain.Message, error) {
	return m.repo.History(userID)
}

// Clear deletes a user's transcript. Idempotent.
func (m *TranscriptModule) Clear(userID string) error {
	return m.repo.Clear(userID)
}
