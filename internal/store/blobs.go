package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"design-marketplace/internal/apperr"
)

// Blob is a stored file
type Blob struct {
	Path        string `db:"path"`
	ContentType string `db:"content_type"`
	Data        []byte `db:"data"`
}

// BlobStore keeps uploaded artwork and license documents in Postgres and
// hands out URLs served by the /files route.
type BlobStore struct {
	store   *Store
	baseURL string
}

// NewBlobStore creates a blob store whose URLs start with baseURL
func NewBlobStore(store *Store, baseURL string) *BlobStore {
	return &BlobStore{store: store, baseURL: strings.TrimRight(baseURL, "/")}
}

// Put writes (or overwrites) the file at path and returns its public URL
func (b *BlobStore) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	_, err := b.store.db.ExecContext(ctx, `
		INSERT INTO blobs (path, content_type, data) VALUES ($1, $2, $3)
		ON CONFLICT (path) DO UPDATE SET content_type = EXCLUDED.content_type, data = EXCLUDED.data`,
		path, contentType, data)
	if err != nil {
		return "", fmt.Errorf("failed to store blob %s: %w", path, err)
	}
	return b.URL(path), nil
}

// Get reads the file at path
func (b *BlobStore) Get(ctx context.Context, path string) (*Blob, error) {
	var blob Blob
	err := b.store.db.GetContext(ctx, &blob,
		"SELECT path, content_type, data FROM blobs WHERE path = $1", path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: blob %s", apperr.ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	return &blob, nil
}

// Delete removes the file at path
func (b *BlobStore) Delete(ctx context.Context, path string) error {
	_, err := b.store.db.ExecContext(ctx, "DELETE FROM blobs WHERE path = $1", path)
	return err
}

// URL returns the public URL of path
func (b *BlobStore) URL(path string) string {
	return b.baseURL + "/files/" + path
}
