package app

import (
	"errors"
	"fmt"

	"github.com/yungbote/labreport-backend/internal/pkg/logger"
	"github.com/yungbote/labreport-backend/internal/platform/blobstore"
	"github.com/yungbote/labreport-backend/internal/platform/gcp"
)

var newReportBucket = func(log *logger.Logger, cfg gcp.ObjectStorageConfig, bucket string) (blobstore.Store, error) {
	b, err := gcp.NewReportBucketWithConfig(log, cfg, bucket)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// StorageBootstrapCode reuses the gcp config codes and adds connect_failed
// for everything the bucket client itself rejects.
type StorageBootstrapCode = gcp.ObjectStorageConfigErrorCode

const StorageBootstrapConnectFailed StorageBootstrapCode = "connect_failed"

type StorageBootstrapError struct {
	Code  StorageBootstrapCode
	Mode  gcp.ObjectStorageMode
	Cause error
}

func (e *StorageBootstrapError) Error() string {
	return fmt.Sprintf("object storage bootstrap failed (code=%s mode=%q): %v", e.Code, e.Mode, e.Cause)
}

func (e *StorageBootstrapError) Unwrap() error { return e.Cause }

func newStorageBootstrapError(mode gcp.ObjectStorageMode, err error) *StorageBootstrapError {
	out := &StorageBootstrapError{Code: StorageBootstrapConnectFailed, Mode: mode, Cause: err}
	var cfgErr *gcp.ObjectStorageConfigError
	if errors.As(err, &cfgErr) && cfgErr.Code != "" {
		out.Code = cfgErr.Code
	}
	return out
}

// resolveBlobStore picks where uploaded reports are read from.
func resolveBlobStore(log *logger.Logger, cfg Config) (blobstore.Store, error) {
	storageCfg, err := gcp.ParseObjectStorageConfig(cfg.ObjectStorageMode, cfg.StorageEmulatorHost, cfg.StoragePublicBase)
	if err != nil {
		bootErr := newStorageBootstrapError(storageCfg.Mode, err)
		log.Error("Object storage config rejected", "mode", storageCfg.Mode, "error_code", bootErr.Code, "error", err)
		return nil, bootErr
	}
	storageCfg.Credentials = cfg.GoogleCredentials

	log.Info("Selecting object storage provider", "mode", storageCfg.Mode, "mode_source", storageCfg.ModeSource())
	if storageCfg.Mode == gcp.ObjectStorageModeMemory {
		log.Warn("Using in-memory object storage; uploads do not survive a restart")
		return blobstore.NewMemory(), nil
	}

	store, err := newReportBucket(log, storageCfg, cfg.ReportBucketName)
	if err != nil {
		bootErr := newStorageBootstrapError(storageCfg.Mode, err)
		log.Error("Object storage bootstrap failed", "mode", storageCfg.Mode, "error_code", bootErr.Code, "error", err)
		return nil, bootErr
	}
	return store, nil
}
