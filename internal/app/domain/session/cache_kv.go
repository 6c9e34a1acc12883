package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var _ KV = (*CacheKV)(nil)

// CacheKV keeps values in process memory. With a snapshot path every write is
// mirrored to a file so the session survives a restart. The file is written
// first and memory only changes once it succeeded.
type CacheKV struct {
	logger  *zap.Logger
	cache   *cache.Cache
	path    string
	sealer  *Sealer
	writeMu sync.Mutex
}

type CacheKVOption func(*CacheKV)

// WithSnapshot mirrors the store to path. A non-nil sealer encrypts the file.
func WithSnapshot(path string, sealer *Sealer) CacheKVOption {
	return func(c *CacheKV) {
		c.path = path
		c.sealer = sealer
	}
}

func NewCacheKV(logger *zap.Logger, opts ...CacheKVOption) (*CacheKV, error) {
	c := &CacheKV{
		logger: logger,
		cache:  cache.New(cache.NoExpiration, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.path != "" {
		if err := c.restore(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *CacheKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, false, errors.Errorf("unexpected cache value %T for key %q", v, key)
	}
	return append([]byte(nil), b...), true, nil
}

func (c *CacheKV) Set(_ context.Context, key string, value []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	value = append([]byte(nil), value...)
	items := c.items()
	items[key] = value
	if err := c.persist(items); err != nil {
		return err
	}
	c.cache.Set(key, value, cache.NoExpiration)
	return nil
}

func (c *CacheKV) Delete(_ context.Context, key string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	items := c.items()
	delete(items, key)
	if err := c.persist(items); err != nil {
		return err
	}
	c.cache.Delete(key)
	return nil
}

func (c *CacheKV) items() map[string][]byte {
	items := make(map[string][]byte)
	for k, item := range c.cache.Items() {
		if b, ok := item.Object.([]byte); ok {
			items[k] = b
		}
	}
	return items
}

func (c *CacheKV) restore() error {
	raw, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read session snapshot")
	}
	if len(raw) == 0 {
		return nil
	}
	if c.sealer != nil {
		if raw, err = c.sealer.Open(raw); err != nil {
			// An unreadable snapshot means the secret rotated; start signed out.
			c.logger.Warn("Discarding session snapshot", zap.String("path", c.path), zap.Error(err))
			return nil
		}
	}

	var items map[string][]byte
	if err := json.Unmarshal(raw, &items); err != nil {
		c.logger.Warn("Discarding malformed session snapshot", zap.String("path", c.path), zap.Error(err))
		return nil
	}
	for k, v := range items {
		c.cache.Set(k, v, cache.NoExpiration)
	}
	c.logger.Debug("Session snapshot restored", zap.Int("keys", len(items)))
	return nil
}

func (c *CacheKV) persist(items map[string][]byte) error {
	if c.path == "" {
		return nil
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return errors.Wrap(err, "encode session snapshot")
	}
	if c.sealer != nil {
		if raw, err = c.sealer.Seal(raw); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return errors.Wrap(err, "create session directory")
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return errors.Wrap(err, "write session snapshot")
	}
	return errors.Wrap(os.Rename(tmp, c.path), "replace session snapshot")
}
