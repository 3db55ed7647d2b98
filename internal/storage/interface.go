package storage

import "context"

// StorageInterface defines the contract for blob storage operations
type StorageInterface interface {
	Store(ctx context.Context, name string, data []byte) error
	Retrieve(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
