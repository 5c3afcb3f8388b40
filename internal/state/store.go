// Package state persists what the bot must survive a restart with: the
// position snapshot as an atomically replaced JSON file, and small
// operational keys (signing nonce, client order ids) in a kv store.
package state

import "context"

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// SetIfAbsent writes the key only when it does not exist yet and
	// reports whether the write happened. Used for order idempotency.
	SetIfAbsent(ctx context.Context, key, value string) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}
