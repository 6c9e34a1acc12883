// Package session persists the single admin session as one JSON blob.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/FACorreiaa/clinic-admin/internal/app/models"
)

// KV is the backing key/value storage for the session blob.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Swapper is a KV that compares and swaps a JSON field atomically on its own.
// Stores shared between processes implement it; the in-process mutex cannot
// see their writes.
type Swapper interface {
	CompareAndSwap(ctx context.Context, key, field, expected string, next []byte) (bool, error)
}

// Store serializes every read-modify-write of the session blob.
type Store struct {
	logger *zap.Logger
	kv     KV
	key    string
	mu     sync.Mutex
}

func NewStore(kv KV, key string, logger *zap.Logger) *Store {
	if key == "" {
		key = "auth"
	}
	return &Store{logger: logger, kv: kv, key: key}
}

// Load returns the current session or models.ErrNoSession.
func (s *Store) Load(ctx context.Context) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *Store) Save(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, sess)
}

// Clear removes the session. Absence is not an error.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Replace writes next, or clears when next is nil, only if the stored access
// token still equals expectedAccess. It reports whether the write happened.
func (s *Store) Replace(ctx context.Context, expectedAccess string, next *models.Session) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sw, ok := s.kv.(Swapper); ok {
		var raw []byte
		if next != nil {
			var err error
			if raw, err = json.Marshal(next); err != nil {
				return false, fmt.Errorf("encode session: %w", err)
			}
		}
		swapped, err := sw.CompareAndSwap(ctx, s.key, "accessToken", expectedAccess, raw)
		if err != nil {
			return false, fmt.Errorf("replace session: %w", err)
		}
		return swapped, nil
	}

	current, err := s.load(ctx)
	switch {
	case errors.Is(err, models.ErrNoSession):
		return false, nil
	case err != nil:
		return false, err
	case current.AccessToken != expectedAccess:
		return false, nil
	}

	if next == nil {
		if err := s.kv.Delete(ctx, s.key); err != nil {
			return false, fmt.Errorf("clear session: %w", err)
		}
		return true, nil
	}
	if err := s.save(ctx, next); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) load(ctx context.Context) (*models.Session, error) {
	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if !ok {
		return nil, models.ErrNoSession
	}
	var sess models.Session
	if err := json.Unmarshal(raw, &sess); err != nil || sess.AccessToken == "" {
		s.logger.Warn("Stored session is unreadable, treating as signed out", zap.Error(err))
		return nil, models.ErrNoSession
	}
	return &sess, nil
}

func (s *Store) save(ctx context.Context, sess *models.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, raw); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}
