package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTicketTTL bounds how long an issued ticket can be redeemed. A ticket
// is requested immediately before the channel is opened, so the window only
// needs to cover one connection attempt.
const DefaultTicketTTL = 30 * time.Second

// ErrTicketInvalid is returned when a ticket is unknown, expired or already
// redeemed.
var ErrTicketInvalid = errors.New("ticket invalid or expired")

// TicketStore issues and redeems single-use WebSocket connection tickets.
// Redeem consumes the ticket: a second redeem of the same ticket fails.
type TicketStore interface {
	Issue(ctx context.Context, userID string) (string, error)
	Redeem(ctx context.Context, ticket string) (string, error)
}

// RedisTicketStore stores tickets in Redis with a TTL, so tickets survive
// gateway restarts and are shared across instances.
type RedisTicketStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisTicketStore creates a Redis-backed ticket store.
func NewRedisTicketStore(client *redis.Client, ttl time.Duration) *RedisTicketStore {
	if ttl <= 0 {
		ttl = DefaultTicketTTL
	}
	return &RedisTicketStore{
		client: client,
		prefix: "ws:ticket:",
		ttl:    ttl,
	}
}

// Issue creates a new single-use ticket bound to the given user.
func (s *RedisTicketStore) Issue(ctx context.Context, userID string) (string, error) {
	ticket := uuid.New().String()
	if err := s.client.Set(ctx, s.prefix+ticket, userID, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store ticket: %w", err)
	}
	return ticket, nil
}

// Redeem consumes a ticket and returns the bound user ID. GetDel makes the
// lookup and invalidation a single atomic operation.
func (s *RedisTicketStore) Redeem(ctx context.Context, ticket string) (string, error) {
	userID, err := s.client.GetDel(ctx, s.prefix+ticket).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrTicketInvalid
		}
		return "", fmt.Errorf("failed to redeem ticket: %w", err)
	}
	return userID, nil
}

// MemoryTicketStore is an in-process ticket store used in development and
// tests when Redis is not available.
type MemoryTicketStore struct {
	mu      sync.Mutex
	tickets map[string]memoryTicket
	ttl     time.Duration
	now     func() time.Time
}

type memoryTicket struct {
	userID  string
	expires time.Time
}

// NewMemoryTicketStore creates an in-memory ticket store.
func NewMemoryTicketStore(ttl time.Duration) *MemoryTicketStore {
	if ttl <= 0 {
		ttl = DefaultTicketTTL
	}
	return &MemoryTicketStore{
		tickets: make(map[string]memoryTicket),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Issue creates a new single-use ticket bound to the given user.
func (s *MemoryTicketStore) Issue(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpired()

	ticket := uuid.New().String()
	s.tickets[ticket] = memoryTicket{
		userID:  userID,
		expires: s.now().Add(s.ttl),
	}
	return ticket, nil
}

// Redeem consumes a ticket and returns the bound user ID.
func (s *MemoryTicketStore) Redeem(_ context.Context, ticket string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tickets[ticket]
	if !ok {
		return "", ErrTicketInvalid
	}
	delete(s.tickets, ticket)

	if s.now().After(entry.expires) {
		return "", ErrTicketInvalid
	}
	return entry.userID, nil
}

// evictExpired drops expired tickets. Caller must hold the lock.
func (s *MemoryTicketStore) evictExpired() {
	now := s.now()
	for ticket, entry := range s.tickets {
		if now.After(entry.expires) {
			delete(s.tickets, ticket)
		}
	}
}
