// Package auth issues single-use links that let a person pick up an
// unfinished signup from their inbox.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	tokenPrefix   = "rl1_"
	hmacKeyFile   = "resume_link.key"
	hmacKeyBytes  = 32
	tokenBytes    = 32
	defaultTTL    = 30 * time.Minute
	resumeURLPath = "/signup/resume"
)

// Service mints and redeems resume link tokens.
type Service struct {
	store *Store
	key   []byte
	ttl   time.Duration
	now   func() time.Time
}

// NewService opens the token store in dir and loads (or creates) the HMAC
// key kept next to it.
func NewService(dir string) (*Service, error) {
	store, err := NewStore(dir)
	if err != nil {
		return nil, err
	}
	key, err := loadOrCreateKey(filepath.Join(filepath.Clean(dir), hmacKeyFile))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &Service{
		store: store,
		key:   key,
		ttl:   defaultTTL,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

func loadOrCreateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) < hmacKeyBytes {
			return nil, fmt.Errorf("resume link key %s is too short", path)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read resume link key: %w", err)
	}

	key = make([]byte, hmacKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate resume link key: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write resume link key: %w", err)
	}
	return key, nil
}

func signHMAC(key []byte, token string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(token))
	return mac.Sum(nil)
}

// GenerateToken mints a token for the signup session owned by email.
func (s *Service) GenerateToken(ctx context.Context, email, sessionID string) (string, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate resume link token: %w", err)
	}
	token := tokenPrefix + base64.RawURLEncoding.EncodeToString(raw)
	if err := s.store.Put(ctx, signHMAC(s.key, token), &TokenRecord{
		Email:     email,
		SessionID: sessionID,
		ExpiresAt: s.now().Add(s.ttl),
	}); err != nil {
		return "", err
	}
	return token, nil
}

// ValidateToken redeems a token. A token works once.
func (s *Service) ValidateToken(ctx context.Context, token string) (*TokenRecord, error) {
	token = strings.TrimSpace(token)
	if !strings.HasPrefix(token, tokenPrefix) {
		return nil, ErrTokenInvalid
	}
	return s.store.Consume(ctx, signHMAC(s.key, token), s.now())
}

// Ping checks the token store.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// Close releases the token store.
func (s *Service) Close() error { return s.store.Close() }

// BuildResumeURL returns the link mailed to the person, or "" when either
// part is missing.
func BuildResumeURL(baseURL, token string) string {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" || token == "" {
		return ""
	}
	return baseURL + resumeURLPath + "?" + url.Values{"token": []string{token}}.Encode()
}
