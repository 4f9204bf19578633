// Package prefs stores per-user defaults applied to new conversations.
package prefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DefaultSystemPrompt seeds a user's preferences on first read.
const DefaultSystemPrompt = "You are a helpful assistant. Answer clearly and concisely."

// Preferences holds a user's saved defaults.
type Preferences struct {
	UserID              string `json:"user_id"`
	DefaultSystemPrompt string `json:"default_system_prompt"`
	CreatedAt           string `json:"created_at"`
	UpdatedAt           string `json:"updated_at"`
}

// Service defines the preference operations. Get creates the row with
// defaults when the user has none yet.
type Service interface {
	Get(ctx context.Context, userID string) (*Preferences, error)
	Put(ctx context.Context, userID, systemPrompt string) (*Preferences, error)
	Delete(ctx context.Context, userID string) error
}

type service struct {
	db *sql.DB
}

func NewService(db *sql.DB) Service {
	return &service{db: db}
}

func (s *service) Get(ctx context.Context, userID string) (*Preferences, error) {
	p := &Preferences{UserID: userID}

	var prompt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT default_system_prompt, created_at, updated_at
		FROM user_preferences WHERE user_id = ?
	`, userID).Scan(&prompt, &p.CreatedAt, &p.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return s.Put(ctx, userID, DefaultSystemPrompt)
	}
	if err != nil {
		return nil, fmt.Errorf("prefs: load: %w", err)
	}

	p.DefaultSystemPrompt = prompt.String
	return p, nil
}

func (s *service) Put(ctx context.Context, userID, systemPrompt string) (*Preferences, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, default_system_prompt, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			default_system_prompt = excluded.default_system_prompt,
			updated_at = excluded.updated_at
	`, userID, systemPrompt, now, now)
	if err != nil {
		return nil, fmt.Errorf("prefs: save: %w", err)
	}

	return s.Get(ctx, userID)
}

// Delete removes the saved preferences; the next Get recreates defaults.
func (s *service) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM user_preferences WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("prefs: delete: %w", err)
	}
	return nil
}
