package remote

import (
	"context"
	"fmt"

	"clocktrack/internal/config"
	"clocktrack/internal/tracker"
)

// NewSubmitterFromConfig creates a Submitter based on the remote config type.
func NewSubmitterFromConfig(ctx context.Context, cfg config.RemoteConfig, deviceID string, enc tracker.Encryptor) (tracker.Submitter, error) {
	switch cfg.Type {
	case "memory":
		return NewMemorySubmitter(cfg.MaxBatchSize), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem remote requires fs_root to be set")
		}
		return orNil(NewFileSystemSubmitter(cfg.FSRoot, cfg.MaxBatchSize, enc))
	case "http":
		if cfg.HTTPBaseURL == "" {
			return nil, fmt.Errorf("http remote requires http_base_url to be set")
		}
		return NewHTTPSubmitter(cfg.HTTPBaseURL, cfg.HTTPToken, deviceID, cfg.HTTPTimeout.Duration, cfg.MaxBatchSize), nil
	case "s3":
		return orNil(NewS3Submitter(ctx, cfg, enc))
	case "postgres":
		return orNil(NewPostgresSubmitter(cfg.PostgresDSN, deviceID, cfg.MaxBatchSize))
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis remote requires redis_addr to be set")
		}
		return NewRedisSubmitter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisStream, deviceID, cfg.MaxBatchSize), nil
	default:
		return nil, fmt.Errorf("unknown remote type: %s", cfg.Type)
	}
}

func orNil[S tracker.Submitter](s S, err error) (tracker.Submitter, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
