// Package archive keeps raw copies of fetched board pages so parser breakage
// can be diagnosed after the fact. Unchanged pages are stored once.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajou-notice/noticepoller/internal/hash/sha256"
	"github.com/ajou-notice/noticepoller/internal/notice"
)

// BlobStore persists one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Config controls object naming.
type Config struct {
	// Prefix is prepended to every object path.
	Prefix string
}

// Archive writes page snapshots to a BlobStore.
type Archive struct {
	store  BlobStore
	clock  notice.Clock
	prefix string
	hasher *sha256.Hasher
	logger *zap.Logger

	mu   sync.Mutex
	last map[string]string
}

// New builds an Archive.
func New(cfg Config, store BlobStore, clock notice.Clock, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{
		store:  store,
		clock:  clock,
		prefix: cfg.Prefix,
		hasher: sha256.New(),
		logger: logger,
		last:   make(map[string]string),
	}
}

// Path names the object for a page fetched from sourceURL at now:
// <prefix>/<yyyy>/<mm>/<dd>/<hhmmss>-<digest[:12]>.html
func (a *Archive) Path(now time.Time, digest string) string {
	return path.Join(a.prefix, now.Format("2006/01/02"), now.Format("150405")+"-"+digest[:12]+".html")
}

// Snapshot stores body unless it matches the previous snapshot of the same
// URL. It returns the object URI, or "" when the write was skipped.
func (a *Archive) Snapshot(ctx context.Context, sourceURL string, body []byte) (string, error) {
	digest := a.hasher.Sum(body)

	a.mu.Lock()
	unchanged := a.last[sourceURL] == digest
	a.mu.Unlock()
	if unchanged {
		return "", nil
	}

	objectPath := a.Path(a.clock.Now(), digest)
	uri, err := a.store.PutObject(ctx, objectPath, "text/html; charset=utf-8", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", sourceURL, err)
	}

	a.mu.Lock()
	a.last[sourceURL] = digest
	a.mu.Unlock()

	a.logger.Debug("board page archived", zap.String("uri", uri), zap.String("digest", digest))
	return uri, nil
}
