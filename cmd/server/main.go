// Package main runs the mock interview backend HTTP server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/prepview/backend/config"
	"github.com/prepview/backend/internal/analysis"
	"github.com/prepview/backend/internal/auth"
	"github.com/prepview/backend/internal/conversations"
	"github.com/prepview/backend/internal/eventstore"
	"github.com/prepview/backend/internal/llm"
	"github.com/prepview/backend/internal/middleware"
	"github.com/prepview/backend/internal/realtime"
	"github.com/prepview/backend/internal/recordings"
	"github.com/prepview/backend/internal/tavus"
	"github.com/prepview/backend/internal/worker"
	"github.com/prepview/backend/pkg/database"
	"github.com/prepview/backend/pkg/queue"
	"github.com/prepview/backend/pkg/redis"
	"github.com/prepview/backend/pkg/response"
	"github.com/prepview/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:                cfg.AWS.Region,
			AccessKeyID:           cfg.AWS.AccessKeyID,
			SecretAccessKey:       cfg.AWS.SecretAccessKey,
			RecordingsBucket:      cfg.AWS.RecordingsBucket,
			TranscriptsBucket:     cfg.AWS.TranscriptsBucket,
			UserTranscriptsBucket: cfg.AWS.UserTranscriptsBucket,
			PresignExpireSeconds:  cfg.AWS.PresignExpireSeconds,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	events := eventstore.New(cfg.Store.Capacity, time.Duration(cfg.Store.TTLMinutes)*time.Minute, logger)
	vendor := tavus.NewClient(cfg.Vendor.BaseURL, cfg.Vendor.APIKey, cfg.Vendor.ReplicaID, cfg.Vendor.PersonaID, logger)

	var generator *llm.Client
	if cfg.Model.APIKey != "" {
		generator = llm.NewClient(cfg.Model.APIKey, cfg.Model.BaseURL, cfg.Model.Model, logger)
	} else {
		logger.Warn("model disabled, deterministic fallbacks only")
	}

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Conversations + webhook receiver
	jobQueue := queue.NewQueue(rdb.Client, logger)
	var convGenerator conversations.Generator
	if generator != nil {
		convGenerator = generator
	}
	conversationHandler := conversations.NewHandler(events, vendor, convGenerator, hub, jobQueue, cfg.Vendor.CallbackBaseURL, logger)

	// Analysis
	var scoreGenerator analysis.Generator
	if generator != nil {
		scoreGenerator = generator
	}
	scorer := analysis.NewScorer(scoreGenerator, logger)
	analysisHandler := analysis.NewHandler(events, vendor, scorer, logger)

	// Recordings + storage gateway
	recordingRepo := recordings.NewRepository(pool)
	var recordingHandler *recordings.Handler
	var mirror *worker.Mirror
	if s3Client != nil {
		recordingHandler = recordings.NewHandler(s3Client, recordingRepo, events, logger)
		mirror = worker.NewMirror(jobQueue, s3Client, recordingRepo, logger)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Probes
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/api/test", func(c *gin.Context) {
		response.OK(c, gin.H{"message": "backend reachable", "time": time.Now().UTC()})
	})

	// Auth
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.GET("/verify", middleware.JWT(jwtService), authHandler.Verify)
	}

	// Interview flow
	interview := router.Group("/interview")
	{
		interview.POST("/create-conversation", conversationHandler.Create)
		interview.GET("/get-conversation/:id", conversationHandler.Get)
		interview.POST("/end-conversation", conversationHandler.End)
		interview.POST("/conversation-callback", conversationHandler.Callback)
		interview.POST("/analyze", analysisHandler.Analyze)

		if recordingHandler != nil {
			interview.POST("/upload-recording", recordingHandler.UploadRecording)
			interview.POST("/upload-transcript", recordingHandler.UploadTranscript)
			interview.POST("/upload-user-transcript", recordingHandler.UploadUserTranscript)
			interview.GET("/download-urls/:conversationId", recordingHandler.DownloadURLs)
			interview.DELETE("/delete-recording/:conversationId", recordingHandler.DeleteRecording)
			interview.POST("/cleanup-session", recordingHandler.Cleanup)
		}
	}

	// WebSocket transcript push (conversation_id in query)
	router.GET("/ws", realtime.ServeWs(hub, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (vendor recording mirror)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if mirror != nil {
		go mirror.Run(workerCtx)
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
