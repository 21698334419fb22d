package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/example/neighborhood-portal/internal/session"
)

// sessionFile persists the token pair between invocations. The file is
// removed once the store no longer holds a session.
type sessionFile string

type storedSession struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func (f sessionFile) load(store *session.Store) error {
	data, err := os.ReadFile(string(f))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read session file: %w", err)
	}

	var stored storedSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("decode session file %s: %w", f, err)
	}
	if stored.AccessToken == "" || stored.RefreshToken == "" {
		return nil
	}
	store.Set(session.Session{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		ExpiresAt:    stored.ExpiresAt,
	})
	return nil
}

func (f sessionFile) save(store *session.Store) error {
	current, ok := store.Get()
	if !ok {
		if err := os.Remove(string(f)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove session file: %w", err)
		}
		return nil
	}

	data, err := json.MarshalIndent(storedSession{
		AccessToken:  current.AccessToken,
		RefreshToken: current.RefreshToken,
		ExpiresAt:    current.ExpiresAt.UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(string(f)), 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	if err := os.WriteFile(string(f), data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}
