package data

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/micro-chain/netdisk/internal/conf"
	diskdata "github.com/micro-chain/netdisk/internal/disk/data"
	"github.com/micro-chain/netdisk/internal/pkg/database"
	"github.com/micro-chain/netdisk/internal/pkg/logger"
	"github.com/micro-chain/netdisk/internal/pkg/minio"
	"github.com/micro-chain/netdisk/internal/pkg/redis"
)

// Data holds the shared infrastructure clients.
type Data struct {
	DB          *database.DB
	RedisClient *redis.Client
	MinIOClient *minio.Client
	Logger      *logger.Logger
}

// NewData connects every backing store and returns a cleanup func.
func NewData(config *conf.Config, log *logger.Logger) (*Data, func(), error) {
	db, err := database.New(&config.Database, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init database: %w", err)
	}

	if err := db.AutoMigrate(&diskdata.AppFilePO{}, &diskdata.BlobRefPO{}); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	redisClient, err := redis.New(&config.Redis, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init redis: %w", err)
	}

	minioClient, err := minio.NewClient(&config.MinIO, log.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init minio: %w", err)
	}

	if err := minioClient.EnsureBucket(context.Background(), config.MinIO.Bucket); err != nil {
		return nil, nil, fmt.Errorf("failed to ensure bucket: %w", err)
	}

	d := &Data{
		DB:          db,
		RedisClient: redisClient,
		MinIOClient: minioClient,
		Logger:      log,
	}

	cleanup := func() {
		log.Info("cleaning up data resources")

		if err := db.Close(); err != nil {
			log.Error("failed to close database", zap.Error(err))
		}
		if err := redisClient.Close(); err != nil {
			log.Error("failed to close redis", zap.Error(err))
		}
	}

	return d, cleanup, nil
}
