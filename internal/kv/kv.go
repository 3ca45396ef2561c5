// Package kv is the device's durable local store: queue snapshots, the
// offline write buffer, and small flags survive process restarts here.
package kv

import "context"

type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// FIFO list operations backing the offline write buffer.
	ListPush(ctx context.Context, key string, value []byte) error
	ListRange(ctx context.Context, key string) ([][]byte, error)
	ListPopHead(ctx context.Context, key string) error
}
