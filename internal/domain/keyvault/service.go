// Package keyvault stores per-user provider API keys, encrypted at rest.
// Keys are decrypted only for the duration of one generation call.
package keyvault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidProvider is returned for provider names that normalize to
// nothing we support.
var ErrInvalidProvider = errors.New("keyvault: invalid provider")

// ErrInvalidKeyFormat is returned when a key fails the save-time format
// rules for its provider.
var ErrInvalidKeyFormat = errors.New("keyvault: invalid api key format")

// ErrKeyNotFound is returned when the user has no key for the provider.
var ErrKeyNotFound = errors.New("keyvault: api key not found")

// providerAliases maps user-facing spellings onto canonical provider
// names. Lookup is case-insensitive.
var providerAliases = map[string]string{
	"openai":    "openai",
	"gpt":       "openai",
	"chatgpt":   "openai",
	"anthropic": "anthropic",
	"claude":    "anthropic",
	"google":    "google",
	"gemini":    "google",
}

// NormalizeProvider resolves a user-supplied provider name to its
// canonical form.
func NormalizeProvider(name string) (string, error) {
	canonical, ok := providerAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidProvider, name)
	}
	return canonical, nil
}

// validateKeyFormat applies the save-time rules, which are stricter than
// the availability prefix checks: a key that passes here is shaped like a
// real credential, not just plausibly prefixed.
func validateKeyFormat(provider, key string) error {
	ok := false
	switch provider {
	case "openai":
		ok = (strings.HasPrefix(key, "sk-proj-") && len(key) >= 56) ||
			(strings.HasPrefix(key, "sk-") && len(key) >= 48)
	case "anthropic":
		ok = strings.HasPrefix(key, "sk-ant-") && len(key) >= 80
	case "google":
		ok = strings.HasPrefix(key, "AIza") && len(key) == 39
	}
	if !ok {
		return fmt.Errorf("%w: provider %s", ErrInvalidKeyFormat, provider)
	}
	return nil
}

// KeyInfo describes a stored key without exposing its value.
type KeyInfo struct {
	Provider  string `json:"provider"`
	MaskedKey string `json:"masked_key"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Service defines the key vault operations. Provider arguments accept
// aliases; they are normalized internally.
type Service interface {
	Save(ctx context.Context, userID, provider, apiKey string) (string, error)
	Get(ctx context.Context, userID, provider string) (string, error)
	Keys(ctx context.Context, userID string) (map[string]string, error)
	List(ctx context.Context, userID string) ([]KeyInfo, error)
	Delete(ctx context.Context, userID, provider string) error
	DeleteAll(ctx context.Context, userID string) error
}

type service struct {
	db     *sql.DB
	cipher *Cipher
}

// NewService creates a vault backed by db, encrypting with cipher.
func NewService(db *sql.DB, cipher *Cipher) Service {
	return &service{db: db, cipher: cipher}
}

// Save validates, encrypts, and upserts the key. Returns the canonical
// provider name.
func (s *service) Save(ctx context.Context, userID, provider, apiKey string) (string, error) {
	canonical, err := NormalizeProvider(provider)
	if err != nil {
		return "", err
	}

	apiKey = strings.TrimSpace(apiKey)
	if err := validateKeyFormat(canonical, apiKey); err != nil {
		return "", err
	}

	encrypted, err := s.cipher.Encrypt(apiKey)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (user_id, provider, encrypted_key, is_active, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			encrypted_key = excluded.encrypted_key,
			is_active = 1,
			updated_at = excluded.updated_at
	`, userID, canonical, encrypted, now, now)
	if err != nil {
		return "", fmt.Errorf("keyvault: save key: %w", err)
	}

	return canonical, nil
}

// Get returns the decrypted key for one provider.
func (s *service) Get(ctx context.Context, userID, provider string) (string, error) {
	canonical, err := NormalizeProvider(provider)
	if err != nil {
		return "", err
	}

	var encrypted string
	err = s.db.QueryRowContext(ctx, `
		SELECT encrypted_key FROM api_keys
		WHERE user_id = ? AND provider = ? AND is_active = 1
	`, userID, canonical).Scan(&encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: provider %s", ErrKeyNotFound, canonical)
	}
	if err != nil {
		return "", fmt.Errorf("keyvault: load key: %w", err)
	}

	return s.cipher.Decrypt(encrypted)
}

// Keys returns all of the user's decrypted keys, keyed by provider.
// Used for availability checks and multi-provider fan-out.
func (s *service) Keys(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, encrypted_key FROM api_keys
		WHERE user_id = ? AND is_active = 1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("keyvault: load keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]string)
	for rows.Next() {
		var provider, encrypted string
		if err := rows.Scan(&provider, &encrypted); err != nil {
			return nil, fmt.Errorf("keyvault: scan key: %w", err)
		}
		plaintext, err := s.cipher.Decrypt(encrypted)
		if err != nil {
			return nil, err
		}
		keys[provider] = plaintext
	}

	return keys, rows.Err()
}

// List returns stored key metadata with masked values.
func (s *service) List(ctx context.Context, userID string) ([]KeyInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, encrypted_key, created_at, updated_at FROM api_keys
		WHERE user_id = ? AND is_active = 1
		ORDER BY provider
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("keyvault: list keys: %w", err)
	}
	defer rows.Close()

	var infos []KeyInfo
	for rows.Next() {
		var info KeyInfo
		var encrypted string
		if err := rows.Scan(&info.Provider, &encrypted, &info.CreatedAt, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("keyvault: scan key: %w", err)
		}
		plaintext, err := s.cipher.Decrypt(encrypted)
		if err != nil {
			return nil, err
		}
		info.MaskedKey = maskKey(plaintext)
		infos = append(infos, info)
	}

	return infos, rows.Err()
}

// Delete removes the user's key for one provider.
func (s *service) Delete(ctx context.Context, userID, provider string) error {
	canonical, err := NormalizeProvider(provider)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM api_keys WHERE user_id = ? AND provider = ?", userID, canonical)
	if err != nil {
		return fmt.Errorf("keyvault: delete key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: provider %s", ErrKeyNotFound, canonical)
	}

	return nil
}

// DeleteAll removes every key the user has stored.
func (s *service) DeleteAll(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM api_keys WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("keyvault: delete keys: %w", err)
	}
	return nil
}

// maskKey keeps just enough of the key for the user to recognize it.
func maskKey(key string) string {
	if len(key) < 12 {
		return "***"
	}
	return key[:5] + "..." + key[len(key)-4:]
}
