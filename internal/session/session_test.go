package session

import (
	"context"
	"testing"
	"time"
)

func TestID(t *testing.T) {
	if got := ID("whatsapp", "+15551234"); got != "whatsapp_15551234" {
		t.Errorf("ID = %q", got)
	}
	if got := ID("slack", "C123"); got != "slack_C123" {
		t.Errorf("ID = %q", got)
	}
}

func TestMemoryRegistry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { clock = clock.Add(time.Second); return clock }

	s, err := m.Resolve(ctx, "whatsapp", "+1555")
	if err != nil {
		t.Fatal(err)
	}
	if s.ID != "whatsapp_1555" || s.Messages != 1 {
		t.Errorf("unexpected session: %+v", s)
	}
	s, _ = m.Resolve(ctx, "whatsapp", "+1555")
	if s.Messages != 2 {
		t.Errorf("messages = %d", s.Messages)
	}
	if _, err := m.Resolve(ctx, "telegram", "42"); err != nil {
		t.Fatal(err)
	}

	if n, _ := m.Count(ctx); n != 2 {
		t.Errorf("count = %d", n)
	}
	active, _ := m.Active(ctx)
	if len(active) != 2 || active[0].ID != "telegram_42" {
		t.Errorf("expected most recent first, got %+v", active)
	}

	ok, _ := m.Clear(ctx, "whatsapp", "+1555")
	if !ok {
		t.Error("clear should report an existing session")
	}
	ok, _ = m.Clear(ctx, "whatsapp", "+1555")
	if ok {
		t.Error("second clear should report nothing removed")
	}
	s, _ = m.Resolve(ctx, "whatsapp", "+1555")
	if s.Messages != 1 {
		t.Errorf("cleared session should start over, got %d", s.Messages)
	}
}

func TestDecodeSession(t *testing.T) {
	s := decodeSession(map[string]string{
		"id": "slack_C1", "channel": "slack", "external_id": "C1",
		"messages": "3", "created_at": "2024-01-01T00:00:00Z", "last_seen": "2024-01-01T00:05:00Z",
	})
	if s.Messages != 3 || s.LastSeen.Sub(s.CreatedAt) != 5*time.Minute {
		t.Errorf("unexpected session: %+v", s)
	}
}
