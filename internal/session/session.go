// Package session maps channel identities to conversation sessions and
// carries workflow events over Redis Streams.
package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Session is one channel identity's running conversation.
type Session struct {
	ID         string    `json:"session_id"`
	Channel    string    `json:"channel"`
	ExternalID string    `json:"external_id"`
	Messages   int       `json:"message_count"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeen   time.Time `json:"last_seen"`
}

// Registry resolves channel identities to sessions.
type Registry interface {
	// Resolve returns the session for channel and externalID, creating it
	// on first use, and counts one more message against it.
	Resolve(ctx context.Context, channel, externalID string) (Session, error)
	// Clear forgets the session. It reports whether one existed.
	Clear(ctx context.Context, channel, externalID string) (bool, error)
	Count(ctx context.Context) (int, error)
	// Active lists sessions, most recently seen first.
	Active(ctx context.Context) ([]Session, error)
}

// ID builds the session id for a channel identity: the channel, an
// underscore and the external id without a leading plus.
func ID(channel, externalID string) string {
	return channel + "_" + strings.TrimPrefix(externalID, "+")
}

// Connect parses url and pings the Redis server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Memory is an in-process Registry.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*Session), now: time.Now}
}

func (m *Memory) Resolve(_ context.Context, channel, externalID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := ID(channel, externalID)
	now := m.now()
	s, ok := m.sessions[id]
	if !ok {
		s = &Session{ID: id, Channel: channel, ExternalID: externalID, CreatedAt: now}
		m.sessions[id] = s
	}
	s.Messages++
	s.LastSeen = now
	return *s, nil
}

func (m *Memory) Clear(_ context.Context, channel, externalID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := ID(channel, externalID)
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	return ok, nil
}

func (m *Memory) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions), nil
}

func (m *Memory) Active(context.Context) ([]Session, error) {
	m.mu.Lock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	m.mu.Unlock()
	sortByLastSeen(out)
	return out, nil
}

func sortByLastSeen(s []Session) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].LastSeen.Equal(s[j].LastSeen) {
			return s[i].ID < s[j].ID
		}
		return s[i].LastSeen.After(s[j].LastSeen)
	})
}
