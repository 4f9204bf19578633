// Package chat manages conversations and their messages. Message order
// inside a chat is tracked by an explicit position column, not by
// timestamps, so concurrent appends can never produce ambiguous order.
package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/minjaeko/chatrelay/pkg/uuid"
)

// Message senders as stored. "ai" maps to the provider role "assistant"
// when history is replayed upstream.
const (
	SenderUser = "user"
	SenderAI   = "ai"
)

// Defaults applied when a chat is created without explicit settings.
const (
	DefaultTitle       = "New Chat"
	DefaultModel       = "gpt-4o"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2048
)

// ErrChatNotFound is returned when the chat does not exist or belongs to
// another user. One error for both cases: ownership is never leaked.
var ErrChatNotFound = errors.New("chat: not found")

// Chat is a conversation with its generation settings.
type Chat struct {
	ID           string  `json:"id"`
	UserID       string  `json:"user_id"`
	Title        string  `json:"title"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

// Image is an attachment stored with a message. Data is base64-encoded.
type Image struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
	Size        int    `json:"size"`
	Position    int    `json:"position"`
}

// Message is one turn of a conversation. Provider metadata is only set on
// AI messages.
type Message struct {
	ID          string  `json:"id"`
	ChatID      string  `json:"chat_id"`
	Sender      string  `json:"sender"`
	Content     string  `json:"content"`
	Position    int     `json:"position"`
	APIProvider string  `json:"api_provider,omitempty"`
	ModelName   string  `json:"model_name,omitempty"`
	TokenCount  int     `json:"token_count,omitempty"`
	CreatedAt   string  `json:"created_at"`
	Images      []Image `json:"images,omitempty"`
}

// CreateInput holds optional settings for a new chat; zero values take
// the defaults above.
type CreateInput struct {
	Title        string
	SystemPrompt string
	Model        string
	Temperature  float64
	MaxTokens    int
}

// UpdateInput holds partial chat updates; nil fields are left unchanged.
type UpdateInput struct {
	Title        *string
	SystemPrompt *string
	Model        *string
	Temperature  *float64
	MaxTokens    *int
}

// AppendInput holds one message to append to a chat.
type AppendInput struct {
	Sender      string
	Content     string
	APIProvider string
	ModelName   string
	TokenCount  int
	Images      []Image
}

// Service defines the conversation store operations. All lookups are
// scoped to the owning user.
type Service interface {
	Create(ctx context.Context, userID string, input CreateInput) (*Chat, error)
	List(ctx context.Context, userID string) ([]Chat, error)
	Get(ctx context.Context, userID, chatID string) (*Chat, error)
	Update(ctx context.Context, userID, chatID string, input UpdateInput) (*Chat, error)
	Delete(ctx context.Context, userID, chatID string) error

	Append(ctx context.Context, userID, chatID string, input AppendInput) (*Message, error)
	Messages(ctx context.Context, userID, chatID string) ([]Message, error)
	ClearMessages(ctx context.Context, userID, chatID string) error
	RecentHistory(ctx context.Context, chatID string, limit int) ([]Message, error)
}

type service struct {
	db *sql.DB
}

// NewService creates a chat store backed by db.
func NewService(db *sql.DB) Service {
	return &service{db: db}
}

func (s *service) Create(ctx context.Context, userID string, input CreateInput) (*Chat, error) {
	c := &Chat{
		ID:           uuid.NewV7().String(),
		UserID:       userID,
		Title:        input.Title,
		SystemPrompt: input.SystemPrompt,
		Model:        input.Model,
		Temperature:  input.Temperature,
		MaxTokens:    input.MaxTokens,
	}
	if c.Title == "" {
		c.Title = DefaultTitle
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Temperature <= 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}

	now := time.Now().UTC().Format(time.RFC3339)
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, user_id, title, system_prompt, model, temperature, max_tokens, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.UserID, c.Title, nullable(c.SystemPrompt), c.Model, c.Temperature, c.MaxTokens, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("chat: create: %w", err)
	}

	return c, nil
}

func (s *service) List(ctx context.Context, userID string) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, system_prompt, model, temperature, max_tokens, created_at, updated_at
		FROM chats WHERE user_id = ?
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("chat: list: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}

	return chats, rows.Err()
}

func (s *service) Get(ctx context.Context, userID, chatID string) (*Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, system_prompt, model, temperature, max_tokens, created_at, updated_at
		FROM chats WHERE id = ? AND user_id = ?
	`, chatID, userID)

	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChatNotFound
	}
	return c, err
}

func (s *service) Update(ctx context.Context, userID, chatID string, input UpdateInput) (*Chat, error) {
	c, err := s.Get(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	if input.Title != nil {
		c.Title = *input.Title
	}
	if input.SystemPrompt != nil {
		c.SystemPrompt = *input.SystemPrompt
	}
	if input.Model != nil {
		c.Model = *input.Model
	}
	if input.Temperature != nil {
		c.Temperature = *input.Temperature
	}
	if input.MaxTokens != nil {
		c.MaxTokens = *input.MaxTokens
	}
	c.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	_, err = s.db.ExecContext(ctx, `
		UPDATE chats SET title = ?, system_prompt = ?, model = ?, temperature = ?, max_tokens = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, c.Title, nullable(c.SystemPrompt), c.Model, c.Temperature, c.MaxTokens, c.UpdatedAt, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("chat: update: %w", err)
	}

	return c, nil
}

func (s *service) Delete(ctx context.Context, userID, chatID string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM chats WHERE id = ? AND user_id = ?", chatID, userID)
	if err != nil {
		return fmt.Errorf("chat: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrChatNotFound
	}
	return nil
}

// Append inserts one message at the next position and bumps the chat's
// updated_at, all in one transaction. The position subquery runs inside
// the same transaction, so two concurrent appends cannot claim the same
// slot.
func (s *service) Append(ctx context.Context, userID, chatID string, input AppendInput) (*Message, error) {
	if _, err := s.Get(ctx, userID, chatID); err != nil {
		return nil, err
	}

	m := &Message{
		ID:          uuid.NewV7().String(),
		ChatID:      chatID,
		Sender:      input.Sender,
		Content:     input.Content,
		APIProvider: input.APIProvider,
		ModelName:   input.ModelName,
		TokenCount:  input.TokenCount,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chat: begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (id, chat_id, sender, content, position, api_provider, model_name, token_count, created_at)
		VALUES (?, ?, ?, ?,
			(SELECT COALESCE(MAX(position), 0) + 1 FROM messages WHERE chat_id = ?),
			?, ?, ?, ?)
		RETURNING position
	`, m.ID, chatID, m.Sender, m.Content, chatID,
		nullable(m.APIProvider), nullable(m.ModelName), nullableInt(m.TokenCount), m.CreatedAt,
	).Scan(&m.Position)
	if err != nil {
		return nil, fmt.Errorf("chat: insert message: %w", err)
	}

	for i, img := range input.Images {
		stored := Image{
			ID:          uuid.NewV7().String(),
			Filename:    img.Filename,
			ContentType: img.ContentType,
			Data:        img.Data,
			Size:        img.Size,
			Position:    i,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO message_images (id, message_id, filename, content_type, data, size, position, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, stored.ID, m.ID, stored.Filename, stored.ContentType, stored.Data, stored.Size, stored.Position, m.CreatedAt); err != nil {
			return nil, fmt.Errorf("chat: insert image: %w", err)
		}
		m.Images = append(m.Images, stored)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE chats SET updated_at = ? WHERE id = ?", m.CreatedAt, chatID); err != nil {
		return nil, fmt.Errorf("chat: touch chat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("chat: commit append: %w", err)
	}

	return m, nil
}

func (s *service) Messages(ctx context.Context, userID, chatID string) ([]Message, error) {
	if _, err := s.Get(ctx, userID, chatID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, sender, content, position, api_provider, model_name, token_count, created_at
		FROM messages WHERE chat_id = ?
		ORDER BY position
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("chat: list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range messages {
		images, err := s.loadImages(ctx, messages[i].ID)
		if err != nil {
			return nil, err
		}
		messages[i].Images = images
	}

	return messages, nil
}

func (s *service) ClearMessages(ctx context.Context, userID, chatID string) error {
	if _, err := s.Get(ctx, userID, chatID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM messages WHERE chat_id = ?", chatID); err != nil {
		return fmt.Errorf("chat: clear messages: %w", err)
	}
	return nil
}

// RecentHistory returns the last limit messages in chronological order,
// skipping empty-content turns. Used to build upstream conversation
// context; ownership is checked by the caller.
func (s *service) RecentHistory(ctx context.Context, chatID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, sender, content, position, api_provider, model_name, token_count, created_at
		FROM messages
		WHERE chat_id = ? AND TRIM(content) != ''
		ORDER BY position DESC LIMIT ?
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("chat: load history: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query; reverse back to chronological.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*Chat, error) {
	var c Chat
	var systemPrompt sql.NullString
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &systemPrompt,
		&c.Model, &c.Temperature, &c.MaxTokens, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("chat: scan chat: %w", err)
	}
	c.SystemPrompt = systemPrompt.String
	return &c, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var provider, model sql.NullString
	var tokens sql.NullInt64
	err := row.Scan(&m.ID, &m.ChatID, &m.Sender, &m.Content, &m.Position,
		&provider, &model, &tokens, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("chat: scan message: %w", err)
	}
	m.APIProvider = provider.String
	m.ModelName = model.String
	m.TokenCount = int(tokens.Int64)
	return &m, nil
}

func (s *service) loadImages(ctx context.Context, messageID string) ([]Image, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, content_type, data, size, position
		FROM message_images WHERE message_id = ?
		ORDER BY position
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("chat: load images: %w", err)
	}
	defer rows.Close()

	var images []Image
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.ID, &img.Filename, &img.ContentType, &img.Data, &img.Size, &img.Position); err != nil {
			return nil, fmt.Errorf("chat: scan image: %w", err)
		}
		images = append(images, img)
	}

	return images, rows.Err()
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
