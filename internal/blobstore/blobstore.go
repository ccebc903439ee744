// Package blobstore implements the opaque byte-storage half of the
// content store (§4.1): writing and fetching raw bytes behind a
// storage_url, independent of the row bookkeeping that lives in
// internal/storage. A transient write failure is retried with backoff
// (github.com/cenkalti/backoff/v4) and surfaced as neoerr.Unavailable
// only after the backoff policy gives up, matching §7's "callers may
// retry with backoff" contract for I/O failures one layer up.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/markmhendrickson/neotoma/internal/neoerr"
)

// Blobstore persists and fetches opaque byte payloads referenced by a
// storage_url. Implementations never interpret the bytes.
type Blobstore interface {
	// Put writes b at the opaque storage_url url. Idempotent for
	// identical urls: callers are expected to derive url from content
	// hash plus tenant (URLForHash), as the content store does.
	Put(ctx context.Context, url string, b []byte) error
	// Get fetches the bytes previously stored at url.
	Get(ctx context.Context, url string) ([]byte, error)
	// Delete best-effort removes the blob at url. Used to clean up
	// after a row-insert failure that followed a successful blob
	// write (§4.1 failure modes); errors are not fatal to the caller.
	Delete(ctx context.Context, url string) error
}

// FilesystemBlobstore is a Blobstore backed by a root directory on
// local disk, laid out by URLForHash as <shard>/<tenant>/<content hash>,
// where the shard is one byte of a hash over tenant and content hash,
// to avoid a flat directory with millions of entries.
type FilesystemBlobstore struct {
	root   string
	policy backoff.BackOff
}

// NewFilesystem creates a FilesystemBlobstore rooted at root, creating
// the directory if needed.
func NewFilesystem(root string) (*FilesystemBlobstore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, neoerr.New(neoerr.Unavailable, "blobstore.NewFilesystem", err)
	}
	return &FilesystemBlobstore{root: root, policy: defaultBackoff()}, nil
}

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	return b
}

// URLForHash derives the opaque storage_url for a per-tenant content
// hash. The url is opaque to every caller except this package; it is
// not guaranteed stable across Blobstore implementations.
func URLForHash(userID, contentHash string) string {
	sum := sha256.Sum256([]byte(userID + "/" + contentHash))
	shard := hex.EncodeToString(sum[:1])
	return filepath.Join(shard, userID, contentHash)
}

func (f *FilesystemBlobstore) path(url string) string {
	return filepath.Join(f.root, url)
}

// Put writes b to the blob path for url, retrying transient failures
// with exponential backoff before surfacing neoerr.Unavailable.
func (f *FilesystemBlobstore) Put(ctx context.Context, url string, b []byte) error {
	dst := f.path(url)
	op := func() error {
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		tmp := dst + ".tmp"
		if err := os.WriteFile(tmp, b, 0o644); err != nil {
			return err
		}
		return os.Rename(tmp, dst)
	}
	if err := backoff.Retry(op, backoff.WithContext(f.policy, ctx)); err != nil {
		return neoerr.New(neoerr.Unavailable, "blobstore.Put", err)
	}
	return nil
}

// Get reads the blob at url.
func (f *FilesystemBlobstore) Get(ctx context.Context, url string) ([]byte, error) {
	var b []byte
	op := func() error {
		data, err := os.ReadFile(f.path(url))
		if err != nil {
			if os.IsNotExist(err) {
				return backoff.Permanent(neoerr.New(neoerr.NotFound, "blobstore.Get", err))
			}
			return err
		}
		b = data
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(f.policy, ctx)); err != nil {
		if neoerr.Is(err, neoerr.NotFound) {
			return nil, err
		}
		return nil, neoerr.New(neoerr.Unavailable, "blobstore.Get", err)
	}
	return b, nil
}

// Delete best-effort removes the blob at url. A missing blob is not
// an error.
func (f *FilesystemBlobstore) Delete(ctx context.Context, url string) error {
	if err := os.Remove(f.path(url)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobstore.Delete: %w", err)
	}
	return nil
}
