package store

import (
	"context"
	"fmt"
	"strings"

	valkey "github.com/valkey-io/valkey-go"

	"github.com/SiriusScan/host-diff/sirius"
)

const (
	SIRIUS_VALKEY = "sirius-valkey:6379"
)

// KVStore defines the key/value operations our store supports.
type KVStore interface {
	// SetValue sets the given key to the specified value.
	SetValue(ctx context.Context, key, value string) error
	// SetValueNX sets the key only if it does not exist yet. It reports
	// whether the value was written.
	SetValueNX(ctx context.Context, key, value string) (bool, error)
	// GetValue retrieves the value associated with the given key. A missing
	// key yields an error wrapping sirius.ErrNotFound.
	GetValue(ctx context.Context, key string) (string, error)
	// Incr atomically increments the integer stored at key and returns the
	// new value.
	Incr(ctx context.Context, key string) (int64, error)
	// ListKeys retrieves all keys matching the given glob pattern.
	ListKeys(ctx context.Context, pattern string) ([]string, error)
	// DeleteValue removes the value associated with the given key.
	DeleteValue(ctx context.Context, key string) error
	// Close shuts down the underlying connection.
	Close() error
}

// valkeyStore is a concrete implementation of KVStore using the valkey-go client.
type valkeyStore struct {
	client valkey.Client
}

// NewValkeyStore creates a new store connected to addr. An empty addr uses
// SIRIUS_VALKEY.
func NewValkeyStore(addr string) (KVStore, error) {
	if addr == "" {
		addr = SIRIUS_VALKEY
	}
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("%w: connect to valkey at %s: %w", sirius.ErrUnavailable, addr, err)
	}
	return &valkeyStore{client: client}, nil
}

// SetValue implements KVStore by executing a SET command.
func (s *valkeyStore) SetValue(ctx context.Context, key, value string) error {
	cmd := s.client.B().Set().Key(key).Value(value).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("%w: valkey SET for key '%s': %w", sirius.ErrUnavailable, key, err)
	}
	return nil
}

// SetValueNX implements KVStore by executing a SET command with NX semantics.
func (s *valkeyStore) SetValueNX(ctx context.Context, key, value string) (bool, error) {
	cmd := s.client.B().Set().Key(key).Value(value).Nx().Build()
	err := s.client.Do(ctx, cmd).Error()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: valkey SET NX for key '%s': %w", sirius.ErrUnavailable, key, err)
	}
	return true, nil
}

// GetValue implements KVStore by executing a GET command.
func (s *valkeyStore) GetValue(ctx context.Context, key string) (string, error) {
	cmd := s.client.B().Get().Key(key).Build()
	resp := s.client.Do(ctx, cmd)

	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return "", fmt.Errorf("key '%s': %w", key, sirius.ErrNotFound)
		}
		return "", fmt.Errorf("%w: valkey GET for key '%s': %w", sirius.ErrUnavailable, key, err)
	}

	value, err := resp.ToString()
	if err != nil {
		return "", fmt.Errorf("failed to convert valkey reply to string for key '%s': %w", key, err)
	}
	return value, nil
}

// Incr implements KVStore by executing an INCR command.
func (s *valkeyStore) Incr(ctx context.Context, key string) (int64, error) {
	cmd := s.client.B().Incr().Key(key).Build()
	resp := s.client.Do(ctx, cmd)
	if err := resp.Error(); err != nil {
		return 0, fmt.Errorf("%w: valkey INCR for key '%s': %w", sirius.ErrUnavailable, key, err)
	}
	n, err := resp.ToInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to convert INCR reply to int64 for key '%s': %w", key, err)
	}
	return n, nil
}

// ListKeys implements KVStore by executing a KEYS command with pattern matching.
func (s *valkeyStore) ListKeys(ctx context.Context, pattern string) ([]string, error) {
	cmd := s.client.B().Keys().Pattern(pattern).Build()
	resp := s.client.Do(ctx, cmd)

	if err := resp.Error(); err != nil {
		return nil, fmt.Errorf("%w: valkey KEYS with pattern '%s': %w", sirius.ErrUnavailable, pattern, err)
	}

	keyMessages, err := resp.ToArray()
	if err != nil {
		return nil, fmt.Errorf("failed to convert valkey KEYS reply to array for pattern '%s': %w", pattern, err)
	}

	keys := make([]string, len(keyMessages))
	for i, keyMsg := range keyMessages {
		k, err := keyMsg.ToString()
		if err != nil {
			return nil, fmt.Errorf("key at index %d in KEYS result for pattern '%s': %w", i, pattern, err)
		}
		keys[i] = k
	}
	return keys, nil
}

// DeleteValue implements KVStore by executing a DEL command.
func (s *valkeyStore) DeleteValue(ctx context.Context, key string) error {
	cmd := s.client.B().Del().Key(key).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("%w: failed to delete key '%s': %w", sirius.ErrUnavailable, key, err)
	}
	return nil
}

// Close shuts down the underlying client connection.
func (s *valkeyStore) Close() error {
	s.client.Close()
	return nil
}

// EscapePattern quotes the glob metacharacters of a literal key fragment so
// it can be embedded in a ListKeys pattern.
func EscapePattern(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
