// Package objectstore stores opaque objects under hierarchical keys
// ("backups/{tenantId}/{kind}/{file}"). It defines the Store interface, an
// in-memory implementation for tests and development with an Echo download
// handler, and an S3 implementation.
package objectstore

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/mediclo/mediclo/internal/errs"
)

// ErrObjectNotFound is returned when no object exists under a key.
var ErrObjectNotFound = fmt.Errorf("object not found: %w", errs.ErrNotFound)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	Hash         string    `json:"hash,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Object is a stored object with its content.
type Object struct {
	ObjectInfo
	Data []byte
}

// Store is the contract for object storage backends.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) (*Object, error)
	// List returns every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// URL returns a retrievable download URL for key.
	URL(ctx context.Context, key string) (string, error)
	// KeyFromURL maps a URL issued by URL back to its key. ok is false for
	// any URL this store could not have issued.
	KeyFromURL(rawURL string) (key string, ok bool)
	Delete(ctx context.Context, key string) error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, errs.ErrStorageUnavailable)
}

// keyAfter returns the unescaped path of u following prefix. Keys that would
// climb out of the prefix are refused.
func keyAfter(u *url.URL, prefix string) (string, bool) {
	p := u.EscapedPath()
	if !strings.HasPrefix(p, prefix) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimPrefix(p, prefix))
	if err != nil || key == "" || path.Clean("/"+key) != "/"+key {
		return "", false
	}
	return key, true
}
