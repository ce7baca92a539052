// Package token resolves the Threads access token from the environment or a
// local secrets file.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no provider holds a token.
var ErrNotFound = errors.New("access token not found")

const fileKey = "THREADS_ACCESS_TOKEN"

// Provider yields the current access token.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// EnvProvider reads the token from an environment variable.
type EnvProvider struct {
	Name string
}

func (p EnvProvider) Token(_ context.Context) (string, error) {
	v := strings.TrimSpace(os.Getenv(p.Name))
	if v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

// FileStorage keeps the token in a JSON file of the form
// {"THREADS_ACCESS_TOKEN": "..."}.
type FileStorage struct {
	path string
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Path returns the backing file location.
func (s *FileStorage) Path() string {
	return s.path
}

func (s *FileStorage) Token(_ context.Context) (string, error) {
	data, err := os.ReadFile(s.path) // #nosec G304 -- path comes from config
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read token file: %w", err)
	}

	var doc map[string]string
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("parse token file: %w", err)
	}

	v := strings.TrimSpace(doc[fileKey])
	if v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

// Save writes the token, creating the parent directory with owner-only permissions.
func (s *FileStorage) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	data, err := json.MarshalIndent(map[string]string{fileKey: token}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	return os.WriteFile(s.path, data, 0o600)
}

// Chain tries each provider in order. ErrNotFound moves on to the next one;
// any other error stops the search.
type Chain []Provider

func (c Chain) Token(ctx context.Context) (string, error) {
	for _, p := range c {
		if p == nil {
			continue
		}
		v, err := p.Token(ctx)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", ErrNotFound
}

// Mask shortens a token for display, keeping the first and last ten characters.
func Mask(token string) string {
	if len(token) <= 20 {
		return strings.Repeat("*", len(token))
	}
	return token[:10] + "..." + token[len(token)-10:]
}
