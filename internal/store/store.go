// Package store holds cached companion responses between connections. The
// cache layer only needs get/set/delete; which engine backs it is a
// deployment choice.
package store

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrEmptyKey = errors.New("store: empty key")

// Entry is one cached value with its refresh timestamp. Entries survive
// connection state changes; only writes and TTL policy remove them.
type Entry struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	StoredAt time.Time       `json:"storedAt"`
}

// Store is the durable local cache interface consumed by the cache layer.
type Store interface {
	Get(key string) (Entry, bool, error)
	Set(entry Entry) error
	Delete(key string) error
}
