package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/aibrain/internal/workflow"
)

// EnsureConversation creates the conversation row for sessionID unless it
// exists, and bumps its update time.
func (s *Store) EnsureConversation(ctx context.Context, sessionID, userID, iface string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO conversations (id, user_id, interface)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET updated_at = NOW()`,
		sessionID, userID, iface,
	)
	if err != nil {
		return fmt.Errorf("ensure conversation %s: %w", sessionID, err)
	}
	return nil
}

// AppendMessages stores msgs in order in one batch.
func (s *Store) AppendMessages(ctx context.Context, sessionID string, msgs []workflow.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range msgs {
		batch.Queue(`
			INSERT INTO messages (conversation_id, role, content, created_at)
			VALUES ($1, $2, $3, $4)`,
			sessionID, m.Role, m.Content, m.Timestamp)
	}
	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	return nil
}

// RecordRun stores a finished conversation: its transcript and one run row
// carrying the actions and errors.
func (s *Store) RecordRun(ctx context.Context, st *workflow.State, res *workflow.Result) error {
	if err := s.EnsureConversation(ctx, st.SessionID, st.UserID, string(st.Interface)); err != nil {
		return err
	}
	if err := s.AppendMessages(ctx, st.SessionID, st.Messages); err != nil {
		return err
	}

	actions, err := json.Marshal(res.ActionsTaken)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}
	errs := st.Errors
	if errs == nil {
		errs = []string{}
	}
	errorsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("marshal errors: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO runs (conversation_id, agent, request, response, actions, errors, error, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		st.SessionID, res.Agent, st.CurrentMessage, res.Response,
		actions, errorsJSON, res.Error, st.Summary().Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// History returns up to limit of the most recent messages for sessionID,
// oldest first.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]workflow.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT role, content, created_at FROM (
			SELECT role, content, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent ORDER BY created_at ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer rows.Close()

	var msgs []workflow.Message
	for rows.Next() {
		var m workflow.Message
		if err := rows.Scan(&m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// RunCount returns how many runs were recorded for sessionID.
func (s *Store) RunCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM runs WHERE conversation_id = $1`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}
