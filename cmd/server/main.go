package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/micro-chain/netdisk/internal/auth"
	"github.com/micro-chain/netdisk/internal/conf"
	"github.com/micro-chain/netdisk/internal/data"
	diskbiz "github.com/micro-chain/netdisk/internal/disk/biz"
	diskdata "github.com/micro-chain/netdisk/internal/disk/data"
	diskservice "github.com/micro-chain/netdisk/internal/disk/service"
	"github.com/micro-chain/netdisk/internal/idempotency"
	"github.com/micro-chain/netdisk/internal/pkg/logger"
	"github.com/micro-chain/netdisk/internal/pkg/workerpool"
	"github.com/micro-chain/netdisk/internal/server"
)

var (
	configFile = flag.String("config", "config.yaml", "config file path")
)

func main() {
	flag.Parse()

	// Load configuration
	config, err := conf.LoadConfig(*configFile)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger with config
	log, err := logger.New(&config.Log)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	// Initialize global logger
	if err := logger.InitGlobal(&config.Log); err != nil {
		log.Fatal("failed to initialize global logger", zap.Error(err))
	}

	log.Info("config loaded successfully")

	// Initialize data layer
	d, cleanup, err := data.NewData(config, log)
	if err != nil {
		log.Fatal("failed to initialize data layer", zap.Error(err))
	}
	defer cleanup()

	// Initialize repositories
	chunkRegistry := diskdata.NewChunkRegistryRedis(d.RedisClient)
	chunkStaging := diskdata.NewChunkStagingMinio(d.MinIOClient)
	blobStore := diskdata.NewBlobStoreMinio(d.MinIOClient)
	fileRepo := diskdata.NewFileRepoGorm(d.DB)
	blobRefRepo := diskdata.NewBlobRefRepoGorm(d.DB)

	// Initialize assembly worker pool
	pool, err := workerpool.New(&workerpool.Config{
		Workers: config.Upload.AssemblyWorkers,
	}, log.Logger)
	if err != nil {
		log.Fatal("failed to initialize worker pool", zap.Error(err))
	}
	defer pool.Release()

	// Initialize use cases
	strategy := diskbiz.NewStoreStrategy(chunkStaging, blobStore, blobRefRepo, fileRepo, log)
	uploadUseCase := diskbiz.NewUploadUseCase(
		chunkRegistry,
		chunkStaging,
		strategy,
		fileRepo,
		blobRefRepo,
		pool,
		diskbiz.UploadConfig{
			SessionTTL:          config.Upload.SessionTTL,
			MaxChunkSize:        config.Upload.MaxChunkSize,
			MaxAssembleAttempts: config.Upload.MaxAssembleAttempts,
		},
		log,
	)
	fileUseCase := diskbiz.NewFileUseCase(fileRepo, blobRefRepo, blobStore, log)

	// Initialize idempotency guard
	guard := idempotency.New(d.RedisClient, config.Idempotency.LockTTL, log.Logger)

	// Initialize services
	jwtManager := auth.NewJWTManager(config.Auth.JWTSecret, config.Auth.JWTIssuer)
	uploadService := diskservice.NewUploadService(uploadUseCase, log)
	fileService := diskservice.NewFileService(fileUseCase, log)

	// Initialize HTTP server
	httpServer := server.NewHTTPServer(config, log, jwtManager, guard, uploadService, fileService)

	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	log.Info("server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownTimeout := config.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Stop(ctx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}
