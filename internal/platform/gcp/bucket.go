package gcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/labreport-backend/internal/pkg/logger"
	"github.com/yungbote/labreport-backend/internal/platform/blobstore"
)

// ReportBucket stores uploaded lab report files in a single GCS bucket.
// It implements blobstore.Store.
type ReportBucket struct {
	log           *logger.Logger
	storageClient *storage.Client
	httpClient    *http.Client
	storageMode   ObjectStorageMode
	emulatorHost  string
	bucketName    string
	publicBaseURL string
}

var _ blobstore.Store = (*ReportBucket)(nil)

func NewReportBucketWithConfig(log *logger.Logger, storageCfg ObjectStorageConfig, bucketName string) (*ReportBucket, error) {
	if err := storageCfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	bucketName = strings.TrimSpace(bucketName)
	if bucketName == "" {
		return nil, fmt.Errorf("REPORT_GCS_BUCKET_NAME is required")
	}
	publicBaseURL, publicBaseSource := publicBaseFor(storageCfg)

	stClient, err := newStorageClientForMode(context.Background(), storageCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	serviceLog := log.With("service", "ReportBucket")
	serviceLog.Info(
		"Object storage initialized",
		"mode", storageCfg.Mode,
		"mode_source", storageCfg.ModeSource(),
		"emulator_host", storageCfg.EmulatorHost,
		"public_base_source", publicBaseSource,
		"bucket", bucketName,
	)

	return &ReportBucket{
		log:           serviceLog,
		storageClient: stClient,
		httpClient:    http.DefaultClient,
		storageMode:   storageCfg.Mode,
		emulatorHost:  storageCfg.EmulatorHost,
		bucketName:    bucketName,
		publicBaseURL: publicBaseURL,
	}, nil
}

func newStorageClientForMode(ctx context.Context, storageCfg ObjectStorageConfig) (*storage.Client, error) {
	switch storageCfg.Mode {
	case ObjectStorageModeGCS:
		opts := credentialOptions(storageCfg.Credentials)
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
		return storage.NewClient(ctx, opts...)
	case ObjectStorageModeGCSEmulator:
		// The storage SDK only honors the emulator through this variable.
		_ = os.Setenv("STORAGE_EMULATOR_HOST", storageCfg.EmulatorHost)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ObjectStorageConfigError{
			Code:  ObjectStorageConfigErrorInvalidMode,
			Value: string(storageCfg.Mode),
		}
	}
}

func publicBaseFor(storageCfg ObjectStorageConfig) (baseURL string, source string) {
	switch {
	case storageCfg.PublicBaseURL != "":
		return storageCfg.PublicBaseURL, "object_storage_public_base_url"
	case storageCfg.IsEmulatorMode():
		return storageCfg.EmulatorHost, "storage_emulator_host"
	default:
		return "", "gcs_default"
	}
}

func (b *ReportBucket) Upload(ctx context.Context, key, contentType string, content io.Reader) (*blobstore.Attrs, error) {
	if strings.TrimSpace(key) == "" {
		return nil, blobstore.ErrEmptyKey
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := b.storageClient.Bucket(b.bucketName).Object(key).NewWriter(ctx)
	w.ContentType = blobstore.NormalizeContentType(contentType)
	if w.ContentType == "" {
		w.ContentType = contentTypeForKey(key)
	}
	if _, err := io.Copy(w, io.LimitReader(content, blobstore.MaxFileSize+1)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer: %w", err)
	}
	attrs := w.Attrs()
	if attrs == nil {
		return b.Stat(ctx, key)
	}
	if attrs.Size > blobstore.MaxFileSize {
		return nil, blobstore.ErrFileTooLarge
	}
	return &blobstore.Attrs{
		Key:         key,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
		ETag:        attrs.Etag,
	}, nil
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	switch {
	case strings.HasSuffix(s, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	case strings.HasSuffix(s, ".heic"):
		return "image/heic"
	default:
		return ""
	}
}

// PublicURL returns a browser-reachable URL for key.
func (b *ReportBucket) PublicURL(key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if b.storageMode == ObjectStorageModeGCSEmulator {
		if u := b.emulatorObjectMediaURL(b.publicBase(), key); u != "" {
			return u
		}
	}
	if b.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", b.publicBaseURL, b.bucketName, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", b.bucketName, key)
}

func (b *ReportBucket) publicBase() string {
	if base := strings.TrimRight(strings.TrimSpace(b.publicBaseURL), "/"); base != "" {
		return base
	}
	return b.emulatorHost
}

// The returned reader owns the request context; cancel runs on Close.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (b *ReportBucket) isEmulatorMode() bool {
	return b != nil && b.storageMode == ObjectStorageModeGCSEmulator && strings.TrimSpace(b.emulatorHost) != ""
}

func (b *ReportBucket) emulatorObjectMediaURL(base, key string) string {
	if base == "" {
		return ""
	}
	return fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s?alt=media",
		strings.TrimRight(base, "/"),
		url.PathEscape(b.bucketName),
		url.PathEscape(key),
	)
}

func (b *ReportBucket) emulatorObjectMetaURL(key string) string {
	return fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s",
		b.emulatorHost,
		url.PathEscape(b.bucketName),
		url.PathEscape(key),
	)
}

func (b *ReportBucket) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	if b.isEmulatorMode() {
		req, err := http.NewRequestWithContext(ctx2, http.MethodGet, b.emulatorObjectMediaURL(b.emulatorHost, key), nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed creating emulator download request: %w", err)
		}
		resp, err := b.httpClient.Do(req)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed emulator download request: %w", err)
		}
		if resp.StatusCode == http.StatusNotFound {
			_ = resp.Body.Close()
			cancel()
			return nil, blobstore.ErrNotFound
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			_ = resp.Body.Close()
			cancel()
			return nil, &StorageHTTPError{Op: "download", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		return &readCloserWithCancel{ReadCloser: resp.Body, cancel: cancel}, nil
	}

	r, err := b.storageClient.Bucket(b.bucketName).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, blobstore.ErrNotFound
		}
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (b *ReportBucket) Stat(ctx context.Context, key string) (*blobstore.Attrs, error) {
	ctx2, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if b.isEmulatorMode() {
		req, err := http.NewRequestWithContext(ctx2, http.MethodGet, b.emulatorObjectMetaURL(key), nil)
		if err != nil {
			return nil, fmt.Errorf("failed creating emulator attrs request: %w", err)
		}
		resp, err := b.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed emulator attrs request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, blobstore.ErrNotFound
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, &StorageHTTPError{Op: "stat", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}

		var payload struct {
			Size        string `json:"size"`
			ContentType string `json:"contentType"`
			Updated     string `json:"updated"`
			ETag        string `json:"etag"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode emulator attrs: %w", err)
		}
		size, _ := strconv.ParseInt(strings.TrimSpace(payload.Size), 10, 64)
		updated := time.Time{}
		if ts := strings.TrimSpace(payload.Updated); ts != "" {
			if parsed, parseErr := time.Parse(time.RFC3339, ts); parseErr == nil {
				updated = parsed
			}
		}
		return &blobstore.Attrs{
			Key:         key,
			Size:        size,
			ContentType: payload.ContentType,
			Updated:     updated,
			ETag:        payload.ETag,
		}, nil
	}

	attrs, err := b.storageClient.Bucket(b.bucketName).Object(key).Attrs(ctx2)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, blobstore.ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch GCS object attrs: %w", err)
	}
	return &blobstore.Attrs{
		Key:         key,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
		ETag:        attrs.Etag,
	}, nil
}

func (b *ReportBucket) Close() error {
	if b == nil || b.storageClient == nil {
		return nil
	}
	return b.storageClient.Close()
}

// StorageHTTPError is a non-2xx answer from the storage emulator.
type StorageHTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StorageHTTPError) Error() string {
	return fmt.Sprintf("emulator %s failed: status=%d body=%s", e.Op, e.StatusCode, e.Body)
}

func (e *StorageHTTPError) HTTPStatusCode() int { return e.StatusCode }
