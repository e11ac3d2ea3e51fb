package storage

import "context"

// Update is published whenever a key is written or deleted. Event is the
// name used by keyspace notifications, "set" or "del".
type Update struct {
	Key   string
	Event string
	Value []byte
}

type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) (int, error)
	Keys(ctx context.Context, pattern string) ([]string, error)

	Restore(values []byte) error
	Backup() ([]byte, error)

	ListenToUpdates() <-chan *Update

	Close() error
}
