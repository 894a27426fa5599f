package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"studio/internal/domain"
	"studio/internal/infra"
)

// FromConfig opens the handle store selected by STORAGE_BACKEND.
func FromConfig(ctx context.Context, cfg *infra.Config) (domain.HandleStore, error) {
	switch cfg.StorageBackend {
	case BackendMinio:
		return NewMinioStore(ctx, MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Region:    cfg.MinioRegion,
			UseSSL:    cfg.MinioUseSSL,
		})
	case BackendFilesystem, "":
		path := cfg.StoragePath
		if !filepath.IsAbs(path) {
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
		}
		return NewFileStore(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
