package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// PresencePrefix is the Redis key prefix for mirrored session hashes.
	PresencePrefix = "presence:"

	// PresenceTTL bounds how long a mirrored session outlives a crashed relay.
	PresenceTTL = 1 * time.Hour

	// JoinedAtLayout is how join times are rendered in the mirror.
	JoinedAtLayout = "2006-01-02 15:04:05"
)

// record is the Redis hash layout of a mirrored session.
type record struct {
	ConnID   string `redis:"conn_id"`
	Username string `redis:"username"`
	Room     string `redis:"room"`
	JoinedAt string `redis:"joined_at"`
	Server   string `redis:"server"`
}

// Store mirrors joined sessions into Redis hashes keyed by connection ID.
// The in-memory Registry stays authoritative; the mirror is best effort.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this relay instance
}

// NewStore connects to Redis and verifies the connection.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// NewStoreWithClient wraps an existing Redis client.
func NewStoreWithClient(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

// Save writes the session hash and refreshes its TTL.
func (s *Store) Save(ctx context.Context, sess Session) error {
	key := PresencePrefix + sess.ConnID

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"conn_id":   sess.ConnID,
		"username":  sess.Username,
		"room":      sess.Room,
		"joined_at": sess.JoinedAt.Format(JoinedAtLayout),
		"server":    s.serverName,
	})
	pipe.Expire(ctx, key, PresenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: save %s: %w", sess.ConnID, err)
	}
	return nil
}

// Get reads a mirrored session back. Returns nil if not found.
func (s *Store) Get(ctx context.Context, connID string) (*Session, error) {
	var rec record
	if err := s.client.HGetAll(ctx, PresencePrefix+connID).Scan(&rec); err != nil {
		return nil, fmt.Errorf("session: get %s: %w", connID, err)
	}
	if rec.ConnID == "" {
		return nil, nil
	}

	joinedAt, _ := time.ParseInLocation(JoinedAtLayout, rec.JoinedAt, time.Local)
	return &Session{
		ConnID:   rec.ConnID,
		Username: rec.Username,
		Room:     rec.Room,
		JoinedAt: joinedAt,
	}, nil
}

// Delete removes a mirrored session.
func (s *Store) Delete(ctx context.Context, connID string) error {
	if err := s.client.Del(ctx, PresencePrefix+connID).Err(); err != nil {
		return fmt.Errorf("session: delete %s: %w", connID, err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
