package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// InmemoryStore keeps every key in a single JSON document, keys are the
// top level members and values are stored as strings.
type InmemoryStore struct {
	valuesMu sync.RWMutex
	values   []byte

	mu          sync.Mutex
	updateChans []chan *Update

	// stop willl be closed when Close() is called
	stop chan struct{}
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values:      []byte("{}"),
		stop:        make(chan struct{}),
		updateChans: make([]chan *Update, 0),
	}
}

func (i *InmemoryStore) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isRunning() {
		return nil
	}

	close(i.stop)

	for _, updateChan := range i.updateChans {
		close(updateChan)
	}

	return nil
}

func (i *InmemoryStore) Set(ctx context.Context, key string, value []byte) (err error) {
	i.valuesMu.Lock()
	i.values, err = sjson.SetBytes(i.values, escapeKey(key), string(value))
	i.valuesMu.Unlock()

	if err != nil {
		return fmt.Errorf("Failed to set '%s': %w", key, err)
	}

	i.publish(&Update{Key: key, Event: "set", Value: value})
	return nil
}

func (i *InmemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	i.valuesMu.RLock()
	defer i.valuesMu.RUnlock()

	result := gjson.GetBytes(i.values, escapeKey(key))
	if !result.Exists() {
		return nil, false, nil
	}

	return []byte(result.String()), true, nil
}

// Delete removes keys and returns how many of them existed.
func (i *InmemoryStore) Delete(ctx context.Context, keys ...string) (int, error) {
	deleted := make([]string, 0, len(keys))

	i.valuesMu.Lock()
	for _, key := range keys {
		path := escapeKey(key)
		if !gjson.GetBytes(i.values, path).Exists() {
			continue
		}

		values, err := sjson.DeleteBytes(i.values, path)
		if err != nil {
			i.valuesMu.Unlock()
			return len(deleted), fmt.Errorf("Failed to delete '%s': %w", key, err)
		}

		i.values = values
		deleted = append(deleted, key)
	}
	i.valuesMu.Unlock()

	for _, key := range deleted {
		i.publish(&Update{Key: key, Event: "del"})
	}

	return len(deleted), nil
}

// Keys returns the keys matching a glob style pattern.
func (i *InmemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	i.valuesMu.RLock()
	defer i.valuesMu.RUnlock()

	var (
		keys []string
		err  error
	)

	gjson.ParseBytes(i.values).ForEach(func(key, _ gjson.Result) bool {
		var ok bool
		if ok, err = path.Match(pattern, key.String()); err != nil {
			return false
		}

		if ok {
			keys = append(keys, key.String())
		}
		return true
	})

	if err != nil {
		return nil, fmt.Errorf("Invalid pattern '%s': %w", pattern, err)
	}

	return keys, nil
}

func (i *InmemoryStore) ListenToUpdates() <-chan *Update {
	i.mu.Lock()
	defer i.mu.Unlock()

	updateChan := make(chan *Update, 255)
	i.updateChans = append(i.updateChans, updateChan)

	return updateChan
}

func (i *InmemoryStore) Restore(values []byte) error {
	if !gjson.ValidBytes(values) || !gjson.ParseBytes(values).IsObject() {
		return fmt.Errorf("Failed to restore: not a JSON object")
	}

	i.valuesMu.Lock()
	i.values = values
	i.valuesMu.Unlock()

	return nil
}

func (i *InmemoryStore) Backup() ([]byte, error) {
	i.valuesMu.RLock()
	defer i.valuesMu.RUnlock()

	backup := make([]byte, len(i.values))
	copy(backup, i.values)

	return backup, nil
}

func (i *InmemoryStore) publish(update *Update) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isRunning() {
		return
	}

	for _, updateChan := range i.updateChans {
		updateChan <- update
	}
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

// escapeKey turns a key into a gjson/sjson path matching exactly that key.
func escapeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))

	for _, r := range key {
		switch r {
		case '\\', '.', '*', '?', '|', '#', '@', '!', ':', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}

	return b.String()
}

var _ Store = (*InmemoryStore)(nil)
