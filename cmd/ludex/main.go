package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ludex/internal/app"
	"ludex/internal/config"
	"ludex/internal/ratelimit"
	"ludex/internal/server"
	"ludex/internal/session"
	"ludex/internal/util"
	"ludex/pkg/ai"
	"ludex/pkg/imagesearch"
	"ludex/pkg/queue"
	"ludex/pkg/sheets"
	"ludex/pkg/storage"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	sheetsClient, err := sheets.NewClient(cfg.Sheets.SpreadsheetID, cfg.Sheets.ServiceAccountKey)
	if err != nil {
		log.Fatalf("init sheets client: %v", err)
	}
	store := sheets.NewSheetsStore(sheetsClient)

	blobs, err := storage.NewMinioStore(
		cfg.Blob.Endpoint,
		cfg.Blob.AccessKey,
		cfg.Blob.SecretKey,
		cfg.Blob.Bucket,
		cfg.Blob.PublicBaseURL,
		cfg.Blob.UseSSL,
	)
	if err != nil {
		log.Fatalf("init blob store: %v", err)
	}

	synth, err := ai.NewOpenAISynthesizer(ai.Config{
		APIKey:     cfg.OpenAI.APIKey,
		BaseURL:    cfg.OpenAI.BaseURL,
		RulesModel: cfg.OpenAI.RulesModel,
		ChatModel:  cfg.OpenAI.ChatModel,
	})
	if err != nil {
		log.Fatalf("init synthesizer: %v", err)
	}

	sessions, err := session.NewVerifier(session.Config{Secret: cfg.SessionSecret})
	if err != nil {
		log.Fatalf("init sessions: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	appCfg := app.Config{
		Store:  store,
		Blobs:  blobs,
		Synth:  synth,
		Images: imagesearch.NewSearcher(imagesearch.DefaultProviders()...),
		Logger: logger,
	}
	srvCfg := server.Config{
		Sessions:       sessions,
		Logger:         logger,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}

	// Redis carries the job queue and the rate limiters; without it the
	// service still runs, processing is kicked through /api/process.
	var jobs *queue.RedisJobQueue
	if cfg.Redis.Addr != "" {
		jobs, err = queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			Stream:   cfg.Queue.Stream,
			Group:    cfg.Queue.Group,
		})
		if err != nil {
			log.Fatalf("init job queue: %v", err)
		}
		appCfg.Queue = jobs

		srvCfg.UploadLimiter, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.Redis.Addr, cfg.Redis.Password, "ludex:ratelimit:upload",
			cfg.RateLimit.UploadPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("init upload limiter: %v", err)
		}
		srvCfg.ChatLimiter, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.Redis.Addr, cfg.Redis.Password, "ludex:ratelimit:chat",
			cfg.RateLimit.ChatPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("init chat limiter: %v", err)
		}
	} else {
		logger.Warn("redis not configured; job queue and rate limits disabled")
	}

	application, err := app.New(appCfg)
	if err != nil {
		log.Fatalf("init app: %v", err)
	}
	srvCfg.App = application

	if jobs != nil {
		jobs.Start(ctx, cfg.Queue.Concurrency, application.HandleJob)
		defer jobs.Close()
	}

	srv, err := server.New(srvCfg)
	if err != nil {
		log.Fatalf("init server: %v", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	logger.Info("ludex listening", "addr", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("serve: %v", err)
	}
}
