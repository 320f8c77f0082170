package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL    string        `env:"DATABASE_URL,required"`
	DBMaxConns     int32         `env:"DB_MAX_CONNS" envDefault:"16"`
	DBMinConns     int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	DBConnLifetime time.Duration `env:"DB_CONN_LIFETIME" envDefault:"1h"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	// Blob storage. When the bucket is empty the local backend is used.
	S3       S3Config `envPrefix:"S3_"`
	AudioDir string   `env:"AUDIO_DIR" envDefault:"./audio"`

	// Key vault. When the region is empty the in-memory backend is used
	// (dev/test only; keys do not survive restarts).
	KeyVaultRegion string `env:"KEYVAULT_REGION"`
	KeyVaultPrefix string `env:"KEYVAULT_PREFIX" envDefault:"vox/user-keys"`

	// External services.
	SpeechAPIKey   string `env:"SPEECH_API_KEY"`
	SpeechProvider string `env:"SPEECH_PROVIDER" envDefault:"openai"` // openai | whisper
	SpeechModel    string `env:"SPEECH_MODEL" envDefault:"whisper-1"`
	WhisperURL     string `env:"WHISPER_URL"`
	SummaryAPIKey  string `env:"SUMMARY_API_KEY"`
	SummaryModel   string `env:"SUMMARY_MODEL" envDefault:"gpt-4o-mini"`
	SummaryBaseURL string `env:"SUMMARY_BASE_URL"`
	MailProvider   string `env:"MAIL_PROVIDER" envDefault:"transactional_api"` // transactional_api | smtp
	MailSender     string `env:"MAIL_SENDER"`
	MailAPIKey     string `env:"MAIL_API_KEY"`
	SMTPAddr       string `env:"SMTP_ADDR"`
	SMTPUsername   string `env:"SMTP_USERNAME"`
	SMTPPassword   string `env:"SMTP_PASSWORD"`
	PromptPath     string `env:"DAILY_SUMMARY_PROMPT_PATH"`

	// Processor tunables.
	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"30s"`
	MaxConcurrentJobs int           `env:"MAX_CONCURRENT_JOBS" envDefault:"4"`
	MaxAttempts       int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	RetryBackoff      time.Duration `env:"RETRY_BACKOFF" envDefault:"10m"`
	ProcessingTimeout time.Duration `env:"PROCESSING_TIMEOUT" envDefault:"5m"`
	JobMaxAge         time.Duration `env:"JOB_MAX_AGE" envDefault:"24h"`
	JobRetention      time.Duration `env:"JOB_RETENTION" envDefault:"720h"`
	MaxFileSize       int64         `env:"MAX_FILE_SIZE" envDefault:"5242880"`
	MinDuration       float64       `env:"MIN_DURATION" envDefault:"1"`  // seconds
	MaxDuration       float64       `env:"MAX_DURATION" envDefault:"60"` // seconds; user cap (minutes) lowers it further

	// Scheduler tunables.
	SchedTick          time.Duration `env:"SCHED_TICK" envDefault:"30s"`
	SchedCheckInterval time.Duration `env:"SCHED_CHECK_INTERVAL" envDefault:"5m"`
	SchedMatchWindow   time.Duration `env:"SCHED_MATCH_WINDOW" envDefault:"5m"`

	// Per-user transcription submissions per minute.
	RateLimitTranscribe int `env:"RATE_LIMIT_TRANSCRIBE" envDefault:"5"`

	TranscodeTimeout time.Duration `env:"TRANSCODE_TIMEOUT" envDefault:"30s"`
	SpeechTimeout    time.Duration `env:"SPEECH_TIMEOUT" envDefault:"5m"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// S3Config holds blob store settings for an S3-compatible backend.
type S3Config struct {
	Bucket        string        `env:"BUCKET"`
	Region        string        `env:"REGION" envDefault:"us-east-1"`
	Endpoint      string        `env:"ENDPOINT"`
	AccessKey     string        `env:"ACCESS_KEY"`
	SecretKey     string        `env:"SECRET_KEY"`
	PresignExpiry time.Duration `env:"PRESIGN_EXPIRY" envDefault:"15m"`
}

// Enabled reports whether S3 is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	switch cfg.MailProvider {
	case "transactional_api", "smtp":
	default:
		return fmt.Errorf("MAIL_PROVIDER must be transactional_api or smtp, got %q", cfg.MailProvider)
	}
	switch cfg.SpeechProvider {
	case "openai", "whisper":
	default:
		return fmt.Errorf("SPEECH_PROVIDER must be openai or whisper, got %q", cfg.SpeechProvider)
	}
	if cfg.SpeechProvider == "whisper" && cfg.WhisperURL == "" {
		return fmt.Errorf("WHISPER_URL is required when SPEECH_PROVIDER=whisper")
	}
	if cfg.MaxConcurrentJobs < 1 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be >= 1, got %d", cfg.MaxConcurrentJobs)
	}
	if cfg.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be >= 1, got %d", cfg.MaxAttempts)
	}
	if cfg.PromptPath != "" {
		if _, err := os.Stat(cfg.PromptPath); err != nil {
			return fmt.Errorf("DAILY_SUMMARY_PROMPT_PATH: %w", err)
		}
	}
	return nil
}
