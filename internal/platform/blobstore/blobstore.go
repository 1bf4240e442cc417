// Package blobstore defines the storage contract for uploaded lab report files
// and an in-memory backend for development and tests.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound     = errors.New("blob not found")
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
	ErrEmptyKey     = errors.New("blob key is required")
)

// MaxFileSize caps a single lab report upload (50 MB).
const MaxFileSize = 50 * 1024 * 1024

// AllowedContentTypes lists the document types the extraction capability accepts.
var AllowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/webp":      true,
	"image/heic":      true,
}

// NormalizeContentType lowercases and strips parameters ("; charset=...").
func NormalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "image/jpg" {
		ct = "image/jpeg"
	}
	return ct
}

type Attrs struct {
	Key         string
	Size        int64
	ContentType string
	Updated     time.Time
	ETag        string
}

// Store is the blob backend the ingestion pipeline reads from.
type Store interface {
	Stat(ctx context.Context, key string) (*Attrs, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Upload(ctx context.Context, key, contentType string, content io.Reader) (*Attrs, error)
}

// ReadAll downloads key fully, refusing objects larger than MaxFileSize.
func ReadAll(ctx context.Context, s Store, key string) ([]byte, error) {
	rc, err := s.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}
	return data, nil
}

type storedBlob struct {
	attrs   Attrs
	content []byte
}

// Memory is a thread-safe in-memory Store.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string]*storedBlob)}
}

func (m *Memory) Upload(_ context.Context, key, contentType string, content io.Reader) (*Attrs, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrEmptyKey
	}
	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}
	h := sha256.Sum256(data)
	attrs := Attrs{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: NormalizeContentType(contentType),
		Updated:     time.Now().UTC(),
		ETag:        fmt.Sprintf("%x", h[:8]),
	}

	m.mu.Lock()
	m.blobs[key] = &storedBlob{attrs: attrs, content: data}
	m.mu.Unlock()

	out := attrs
	return &out, nil
}

func (m *Memory) Download(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	b, ok := m.blobs[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b.content)), nil
}

func (m *Memory) Stat(_ context.Context, key string) (*Attrs, error) {
	m.mu.RLock()
	b, ok := m.blobs[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	out := b.attrs
	return &out, nil
}

// Delete removes key; used by tests simulating a vanished upload.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[key]; !ok {
		return ErrNotFound
	}
	delete(m.blobs, key)
	return nil
}
