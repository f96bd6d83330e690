package draft

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type KeyGenerator func() string

func NewIdempotencyKey() string {
	return uuid.NewString()
}

// idempotencyKey returns the key persisted for the pending commit, creating
// one on first use so every retry of the same draft reuses it.
func (m *Manager) idempotencyKey(ctx context.Context) (string, error) {
	storeKey := m.key(m.flow.IdempotencyKey())
	raw, ok, err := m.store.Load(ctx, storeKey)
	if err != nil {
		return "", fmt.Errorf("load idempotency key: %w", err)
	}
	if ok {
		var k string
		if err := decodeValue(storeKey, raw, &k); err == nil && k != "" {
			return k, nil
		}
	}

	k := m.newKey()
	b, err := encodeValue(k)
	if err != nil {
		return "", err
	}
	if err := m.store.Save(ctx, storeKey, b); err != nil {
		return "", fmt.Errorf("save idempotency key: %w", err)
	}
	return k, nil
}
