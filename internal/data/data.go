package data

import (
	"context"
	"fmt"
	"time"

	"github.com/lk2023060901/chatai-backend/internal/conf"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"github.com/lk2023060901/chatai-backend/internal/pkg/minio"
	"github.com/lk2023060901/chatai-backend/internal/pkg/redis"
	"go.uber.org/zap"
)

// Data 外部存储连接
type Data struct {
	Redis *redis.Client
	// MinIO 未配置对象存储时为 nil
	MinIO  *minio.Client
	Logger *logger.Logger
}

// NewData 连接 Redis 与 (可选的) MinIO, 返回的 cleanup 关闭全部连接
func NewData(config *conf.Config, log *logger.Logger) (*Data, func(), error) {
	redisClient, err := redis.New(&config.Redis, log.Named("redis"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init redis: %w", err)
	}

	var minioClient *minio.Client
	if config.MinIOEnabled() {
		minioClient, err = initMinIO(config, log)
		if err != nil {
			redisClient.Close()
			return nil, nil, fmt.Errorf("failed to init minio: %w", err)
		}
	} else {
		log.Warn("object storage not configured, generated files will not be rehosted")
	}

	d := &Data{
		Redis:  redisClient,
		MinIO:  minioClient,
		Logger: log,
	}

	cleanup := func() {
		log.Info("cleaning up data resources")
		if err := redisClient.Close(); err != nil {
			log.Warn("failed to close redis", zap.Error(err))
		}
	}

	return d, cleanup, nil
}

func initMinIO(config *conf.Config, log *logger.Logger) (*minio.Client, error) {
	cfg := config.MinIO
	cfg.SetDefaults()

	client, err := minio.NewClient(&cfg, log.Named("minio").Logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, err
	}

	log.Info("object storage initialized", zap.String("bucket", client.Bucket()))
	return client, nil
}
