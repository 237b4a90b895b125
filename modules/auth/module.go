package auth

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/go-monolith/mono"
	"github.com/redis/go-redis/v9"
)

// AuthModule provides access token verification and single-use WebSocket
// connection tickets.
type AuthModule struct {
	jwtManager  *JWTManager
	tickets     TicketStore
	redisClient *redis.Client
	devTokens   bool
}

// Compile-time interface checks.
var _ mono.Module = (*AuthModule)(nil)
var _ mono.HealthCheckableModule = (*AuthModule)(nil)

// NewModule creates a new AuthModule configured from the environment.
// When REDIS_ADDR is unset, tickets are kept in process memory.
func NewModule() *AuthModule {
	config := DefaultJWTConfig()
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.SecretKey = secret
	}
	if issuer := os.Getenv("JWT_ISSUER"); issuer != "" {
		config.Issuer = issuer
	}

	m := &AuthModule{
		jwtManager: NewJWTManager(config),
		devTokens:  os.Getenv("ALLOW_DEV_TOKENS") == "1",
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		m.redisClient = redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     os.Getenv("REDIS_PASSWORD"),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		})
		m.tickets = NewRedisTicketStore(m.redisClient, DefaultTicketTTL)
	} else {
		m.tickets = NewMemoryTicketStore(DefaultTicketTTL)
	}

	return m
}

// Name returns the module name.
func (m *AuthModule) Name() string {
	return "auth"
}

// Start initializes the auth module.
func (m *AuthModule) Start(ctx context.Context) error {
	if m.redisClient != nil {
		if err := m.redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		log.Println("[auth] Module started - Redis ticket store")
	} else {
		log.Println("[auth] Module started - in-memory ticket store")
	}
	if m.devTokens {
		log.Println("[auth] WARNING: dev token minting enabled (ALLOW_DEV_TOKENS=1)")
	}
	return nil
}

// Stop shuts down the module.
func (m *AuthModule) Stop(_ context.Context) error {
	if m.redisClient != nil {
		return m.redisClient.Close()
	}
	return nil
}

// Health returns the health status.
func (m *AuthModule) Health(ctx context.Context) mono.HealthStatus {
	if m.redisClient != nil {
		if err := m.redisClient.Ping(ctx).Err(); err != nil {
			return mono.HealthStatus{
				Healthy: false,
				Message: "redis unreachable: " + err.Error(),
			}
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
	}
}

// VerifyToken validates a bearer access token and returns the user ID.
func (m *AuthModule) VerifyToken(token string) (string, error) {
	claims, err := m.jwtManager.ValidateAccessToken(token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// IssueTicket creates a single-use connection ticket for the given user.
func (m *AuthModule) IssueTicket(ctx context.Context, userID string) (string, error) {
	return m.tickets.Issue(ctx, userID)
}

// RedeemTicket consumes a ticket and returns the bound user ID.
func (m *AuthModule) RedeemTicket(ctx context.Context, ticket string) (string, error) {
	return m.tickets.Redeem(ctx, ticket)
}

// MintDevToken issues an access token without external authentication.
// Only available when ALLOW_DEV_TOKENS=1.
func (m *AuthModule) MintDevToken(userID string) (string, bool) {
	if !m.devTokens {
		return "", false
	}
	token, err := m.jwtManager.GenerateAccessToken(userID)
	if err != nil {
		return "", false
	}
	return token, true
}
