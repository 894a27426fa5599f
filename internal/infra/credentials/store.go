package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/sqlinline"
)

const (
	ProviderGemini = "gemini"
)

// Store reads and writes provider tokens in integration_tokens.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

func (s *Store) GeminiAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderGemini)
}

// APIKey implements domain.CredentialSource.
func (s *Store) APIKey(ctx context.Context) (string, error) {
	return s.GeminiAPIKey(ctx)
}

func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

func (s *Store) SetGeminiAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("gemini api key is required")
	}
	return s.upsert(ctx, ProviderGemini, key, map[string]any{"source": "cli"})
}

// ClearGeminiAPIKey removes the stored key. Removing a missing key is not an
// error.
func (s *Store) ClearGeminiAPIKey(ctx context.Context) error {
	_, err := s.sql.Exec(ctx, sqlinline.QDeleteIntegrationToken, ProviderGemini)
	return err
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}

// Static is a fixed key, typically from the environment or a flag.
type Static string

// APIKey implements domain.CredentialSource.
func (s Static) APIKey(context.Context) (string, error) {
	return strings.TrimSpace(string(s)), nil
}

// Chain returns the first non-empty key from its sources. Lookup errors are
// returned only when no later source yields a key.
type Chain []domain.CredentialSource

// APIKey implements domain.CredentialSource.
func (c Chain) APIKey(ctx context.Context) (string, error) {
	var firstErr error
	for _, src := range c {
		if src == nil {
			continue
		}
		key, err := src.APIKey(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if key = strings.TrimSpace(key); key != "" {
			return key, nil
		}
	}
	return "", firstErr
}

var (
	_ domain.CredentialSource = (*Store)(nil)
	_ domain.CredentialSource = Static("")
	_ domain.CredentialSource = Chain(nil)
)
