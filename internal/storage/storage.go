// Package storage is the terminal's durable key/value store. It plays the
// part browser local storage plays for a web client: whole JSON values
// written and read by key, scoped to one terminal.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("storage: key not found")

const (
	KeyAccessToken     = "access_token"
	KeyRefreshToken    = "refresh_token"
	KeyCurrentUser     = "current_user"
	KeyActiveStoreCode = "active_store_code"
	KeySyncQueue       = "sync_queue"
)

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Factory hands out a Store scoped to one terminal id.
type Factory interface {
	For(terminalID string) Store
}

func GetJSON(ctx context.Context, s Store, key string, out any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}

// GetString returns "" without error for a missing key.
func GetString(ctx context.Context, s Store, key string) (string, error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
