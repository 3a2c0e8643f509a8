// Copyright 2025 Longopass
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// ErrNotFound is returned when a looked-up row does not exist or does
// not belong to the requesting user.
var ErrNotFound = errors.New("not found")

// User is a gateway account resolved from request identity.
type User struct {
	ID    int64
	Email string
	Plan  string
}

// Conversation is one chat thread owned by a user.
type Conversation struct {
	ID     int64
	UserID int64
	Status string
}

// MessageRecord is the input to AppendMessage. ConversationID and
// UserID are optional: analyze results are stored without a
// conversation, guard replies without a user.
type MessageRecord struct {
	ConversationID *int64
	UserID         *int64
	Role           string
	Content        string
	ModelName      string
	LatencyMS      int64
}

// Store is the persistence collaborator backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore connects to PostgreSQL and verifies the connection.
func NewStore(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing connection (used by tests).
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema when absent. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			email TEXT UNIQUE,
			plan TEXT NOT NULL DEFAULT 'free',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT REFERENCES users(id),
			status TEXT NOT NULL DEFAULT 'active',
			title TEXT,
			started_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			conversation_id BIGINT REFERENCES conversations(id),
			user_id BIGINT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			model_name TEXT,
			model_latency_ms BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS message_meta (
			id BIGSERIAL PRIMARY KEY,
			message_id BIGINT REFERENCES messages(id),
			raw_provider_payload JSONB,
			raw_provider_name TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user_role ON messages(user_id, role, model_name)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// FindOrCreateUserByIdentity resolves an identity string to a user,
// creating the row on first sight. An empty identity maps to the shared
// guest account. A valid planOverride updates the stored plan.
func (s *Store) FindOrCreateUserByIdentity(ctx context.Context, identity, planOverride string) (*User, error) {
	email := "guest@example.com"
	if identity != "" {
		email = fmt.Sprintf("user-%s@example.com", identity)
	}

	user := &User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, plan FROM users WHERE email = $1`, email,
	).Scan(&user.ID, &user.Email, &user.Plan)
	if errors.Is(err, sql.ErrNoRows) {
		err = s.db.QueryRowContext(ctx,
			`INSERT INTO users (email, plan) VALUES ($1, 'free') RETURNING id, email, plan`, email,
		).Scan(&user.ID, &user.Email, &user.Plan)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}

	if (planOverride == PlanFree || planOverride == PlanPremium) && user.Plan != planOverride {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE users SET plan = $1 WHERE id = $2`, planOverride, user.ID,
		); err != nil {
			return nil, fmt.Errorf("failed to update plan: %w", err)
		}
		user.Plan = planOverride
	}

	return user, nil
}

// CreateConversation starts a new active conversation for the user.
func (s *Store) CreateConversation(ctx context.Context, userID int64) (*Conversation, error) {
	conv := &Conversation{UserID: userID, Status: "active"}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO conversations (user_id, status) VALUES ($1, 'active') RETURNING id`, userID,
	).Scan(&conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation fetches a conversation owned by the user.
func (s *Store) GetConversation(ctx context.Context, conversationID, userID int64) (*Conversation, error) {
	conv := &Conversation{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, status FROM conversations WHERE id = $1 AND user_id = $2`,
		conversationID, userID,
	).Scan(&conv.ID, &conv.UserID, &conv.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return conv, nil
}

// AppendMessage stores one message turn and returns its id.
func (s *Store) AppendMessage(ctx context.Context, rec MessageRecord) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (conversation_id, user_id, role, content, model_name, model_latency_ms)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		nullableInt64(rec.ConversationID), nullableInt64(rec.UserID),
		rec.Role, rec.Content, rec.ModelName, rec.LatencyMS,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to append message: %w", err)
	}
	return id, nil
}

// AttachRawPayload stores the raw provider payload for audit.
func (s *Store) AttachRawPayload(ctx context.Context, messageID int64, payload []byte, providerName string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO message_meta (message_id, raw_provider_payload, raw_provider_name) VALUES ($1, $2, $3)`,
		messageID, payload, providerName,
	); err != nil {
		return fmt.Errorf("failed to attach raw payload: %w", err)
	}
	return nil
}

// CountAssistantMessagesByTag counts stored assistant messages tagged
// with the given model name. The analyze quota is tracked this way.
func (s *Store) CountAssistantMessagesByTag(ctx context.Context, userID int64, tag string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE user_id = $1 AND role = 'assistant' AND model_name = $2`,
		userID, tag,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count analyses: %w", err)
	}
	return count, nil
}

// CountUserMessagesSince counts user-role messages created at or after
// the given time. The daily chat limit is tracked this way.
func (s *Store) CountUserMessagesSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE user_id = $1 AND role = 'user' AND created_at >= $2`,
		userID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// ListMessages returns the last limit turns of a conversation in
// chronological order.
func (s *Store) ListMessages(ctx context.Context, conversationID int64, limit int) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM (
			SELECT role, content, created_at FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) tail ORDER BY created_at ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.Role, &e.Content, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
