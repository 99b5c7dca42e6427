package repository

import (
	"context"
	"errors"
)

// ErrRecordNotFound is returned by KeyValueStore.Get for absent keys.
var ErrRecordNotFound = errors.New("record not found")

// KeyValueStore is the durable storage behind exam sessions. Values are
// opaque bytes; concurrent writers to one key are last-write-wins.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
}
