package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/snarg/vox-engine/internal/api"
	"github.com/snarg/vox-engine/internal/config"
	"github.com/snarg/vox-engine/internal/database"
	"github.com/snarg/vox-engine/internal/ingest"
	"github.com/snarg/vox-engine/internal/keyvault"
	"github.com/snarg/vox-engine/internal/ledger"
	"github.com/snarg/vox-engine/internal/mailer"
	"github.com/snarg/vox-engine/internal/metrics"
	"github.com/snarg/vox-engine/internal/processor"
	"github.com/snarg/vox-engine/internal/scheduler"
	"github.com/snarg/vox-engine/internal/speech"
	"github.com/snarg/vox-engine/internal/storage"
	"github.com/snarg/vox-engine/internal/summarize"
	"github.com/snarg/vox-engine/internal/transcode"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "http-addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.DatabaseURL, "db-url", "", "database URL (overrides DATABASE_URL)")
	flag.Parse()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("vox-engine starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.PoolOptions{
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: cfg.DBConnLifetime,
	}, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize schema")
	}
	if err := db.Migrate(ctx); err != nil {
		// MigrationError carries the SQL to apply manually; print it whole.
		fmt.Fprintln(os.Stderr, err)
		log.Fatal().Msg("schema migration failed")
	}

	// Blob storage
	blobs, err := storage.New(cfg.S3, cfg.AudioDir, log.With().Str("component", "storage").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize blob storage")
	}

	// Key vault
	var vault keyvault.Vault
	if cfg.KeyVaultRegion != "" {
		vault, err = keyvault.NewSecretsManagerVault(ctx, cfg.KeyVaultRegion, cfg.KeyVaultPrefix,
			log.With().Str("component", "keyvault").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize key vault")
		}
	} else {
		log.Warn().Msg("KEYVAULT_REGION not set, using in-memory key vault; keys will not survive restarts")
		vault = keyvault.NewMemoryVault()
	}

	// Speech provider
	var sp speech.Provider
	switch cfg.SpeechProvider {
	case "whisper":
		sp = speech.NewWhisperClient(cfg.WhisperURL, cfg.SpeechModel, cfg.SpeechTimeout)
	default:
		sp = speech.NewOpenAIClient(cfg.SpeechAPIKey, cfg.SpeechModel)
	}
	log.Info().Str("provider", sp.Name()).Str("model", sp.Model()).Msg("speech provider configured")

	// Summary LLM
	var prompt *summarize.PromptTemplate
	if cfg.PromptPath != "" {
		prompt, err = summarize.LoadPrompt(cfg.PromptPath, log.With().Str("component", "summarize").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load summary prompt")
		}
	}
	summarizer := summarize.NewClient(cfg.SummaryAPIKey, cfg.SummaryModel, cfg.SummaryBaseURL, prompt)

	// Mail
	var mail mailer.Sender
	switch cfg.MailProvider {
	case "smtp":
		mail = mailer.NewSMTPMailer(cfg.SMTPAddr, cfg.SMTPUsername, cfg.SMTPPassword, cfg.MailSender)
	default:
		mail = mailer.NewResendMailer(cfg.MailAPIKey, cfg.MailSender)
	}
	log.Info().Str("provider", mail.Name()).Msg("mail provider configured")

	if !transcode.CheckFFmpeg() {
		log.Warn().Msg("ffmpeg not found in PATH; audio normalization and duration probing will fail")
	}
	tc := transcode.New(cfg.TranscodeTimeout)

	// Ledger and ingest
	ledg := ledger.New(db, log.With().Str("component", "ledger").Logger())
	ing := ingest.New(db, ledg, cfg.MaxFileSize, log.With().Str("component", "ingest").Logger())

	// Job processor
	proc := processor.New(db, blobs, vault, ledg, sp, summarizer, mail, tc, processor.Options{
		PollInterval:      cfg.PollInterval,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		MaxAttempts:       cfg.MaxAttempts,
		RetryBackoff:      cfg.RetryBackoff,
		ProcessingTimeout: cfg.ProcessingTimeout,
		JobMaxAge:         cfg.JobMaxAge,
		MaxFileSize:       cfg.MaxFileSize,
		MinDurationSec:    cfg.MinDuration,
		MaxDurationSec:    cfg.MaxDuration,
	}, log)
	proc.Start()

	// Daily summary scheduler
	sched := scheduler.New(db, scheduler.Options{
		Tick:          cfg.SchedTick,
		CheckInterval: cfg.SchedCheckInterval,
		MatchWindow:   cfg.SchedMatchWindow,
	}, log)
	sched.Start()

	// Job retention sweeper
	maint := database.NewMaintenance(db, cfg.JobRetention, log.With().Str("component", "maintenance").Logger())
	maint.Start()

	prometheus.MustRegister(metrics.NewCollector(db.Pool, proc))

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	health := api.NewHealthHandler(db, blobs.Type(), version, startTime)
	srv := api.NewServer(cfg, db, ing, ledg, vault, blobs, health, httpLog)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Stop intake first, then drain the workers.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	sched.Stop()
	proc.Stop()
	maint.Stop()

	log.Info().Msg("vox-engine stopped")
}
