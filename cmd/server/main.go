// Package main runs the recorder HTTP server, the capture sessions it starts
// and the finalization worker, with graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/getrec/recorder/config"
	"github.com/getrec/recorder/internal/auth"
	"github.com/getrec/recorder/internal/capture"
	"github.com/getrec/recorder/internal/demux"
	"github.com/getrec/recorder/internal/lifecycle"
	"github.com/getrec/recorder/internal/middleware"
	"github.com/getrec/recorder/internal/publisher"
	"github.com/getrec/recorder/internal/realtime"
	"github.com/getrec/recorder/internal/recordings"
	"github.com/getrec/recorder/internal/rtc"
	"github.com/getrec/recorder/internal/whip"
	"github.com/getrec/recorder/internal/worker"
	"github.com/getrec/recorder/pkg/database"
	"github.com/getrec/recorder/pkg/redis"
	"github.com/getrec/recorder/pkg/response"
	"github.com/getrec/recorder/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.Recording.TmpPath, 0o750); err != nil {
		logger.Fatal("create temp dir", zap.String("path", cfg.Recording.TmpPath), zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	// Status fan-out goes through Redis when configured, in-process otherwise.
	var hub *realtime.Hub
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		pubSub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, pubSub, pubSub)
	} else {
		hub = realtime.NewHub(logger, nil, nil)
	}

	store, err := newObjectStore(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Warn("object storage disabled", zap.Error(err))
	}

	bus := lifecycle.NewBus(cfg.Recording.EventBuffer)
	recordingRepo := recordings.NewRepository(pool)
	pub := publisher.New(publisher.Config{
		FFmpegPath:         cfg.Recording.FFmpegPath,
		FFprobePath:        cfg.Recording.FFprobePath,
		FrameRate:          cfg.Recording.FrameRate,
		CleanRawFiles:      cfg.Recording.CleanRawFiles,
		CleanPackagedFiles: cfg.Recording.CleanPackagedFiles,
	}, nil, store, logger)
	recordingProcessor := worker.NewRecordingProcessor(bus.Events(), recordingRepo, pub, hub, cfg.Recording.TmpPath, logger)

	demuxCfg := demux.DefaultConfig()
	demuxCfg.AudioPayloadType = uint8(cfg.Recording.AudioPayloadType)
	engines := rtc.NewFactory(rtc.Config{VideoReorder: uint16(cfg.WebRTC.VideoReorder)}, logger)

	sessionCtx, sessionCancel := context.WithCancel(context.Background())
	defer sessionCancel()
	whipHandler := whip.NewHandler(sessionCtx, whip.Config{
		HostIP:      cfg.WebRTC.HostIP,
		ExcludedIPs: cfg.WebRTC.ExcludedIPs,
		STUNServer:  cfg.WebRTC.STUNServer,
		Session:     capture.Config{TmpDir: cfg.Recording.TmpPath, Demux: demuxCfg},
	}, engines, bus, logger)

	var signer recordings.URLSigner
	if store != nil {
		signer = store
	}
	recordingHandler := recordings.NewHandler(recordingRepo, signer, logger)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	v1 := router.Group("/v1")
	v1.Use(middleware.Bearer(jwtService))
	{
		// Ingest
		v1.POST("/:account_id", middleware.RequireAccount(), whipHandler.Offer)

		// Recordings
		v1.GET("/:account_id/recordings", middleware.RequireAccount(), recordingHandler.ListByAccount)
		v1.GET("/:account_id/ws", middleware.RequireAccount(), realtime.ServeWs(hub, logger))
		v1.GET("/recordings/:id", recordingHandler.Get)
		v1.GET("/recordings/:id/download-url", recordingHandler.GenerateDownloadURL)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Finalization worker (single consumer of the lifecycle bus)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		recordingProcessor.Run(workerCtx)
	}()
	logger.Info("recording worker started")

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	sessionCancel()
	whipHandler.Wait()
	workerCancel()
	<-workerDone
	logger.Info("server stopped", zap.Int("unprocessed_events", bus.Len()))
}

// newObjectStore builds the configured storage driver.
func newObjectStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.ObjectStore, error) {
	switch cfg.Driver {
	case config.StorageDriverMinIO:
		m, err := storage.NewMinIO(storage.MinIOConfig{
			Endpoint:             cfg.Endpoint,
			Region:               cfg.Region,
			AccessKeyID:          cfg.AccessKeyID,
			SecretAccessKey:      cfg.SecretAccessKey,
			Bucket:               cfg.Bucket,
			UseSSL:               cfg.UseSSL,
			PresignExpireMinutes: cfg.PresignExpireMinutes,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return m, nil
	default:
		s, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.Region,
			Endpoint:             cfg.Endpoint,
			AccessKeyID:          cfg.AccessKeyID,
			SecretAccessKey:      cfg.SecretAccessKey,
			Bucket:               cfg.Bucket,
			PresignExpireMinutes: cfg.PresignExpireMinutes,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
