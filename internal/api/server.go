// Package api is the authenticated HTTP surface: audio registration, job and
// transcript reads, summary access, preferences, and the ledger views. Every
// route is scoped to the bearer-token principal; cross-user access never
// succeeds.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/vox-engine/internal/config"
	"github.com/snarg/vox-engine/internal/database"
	"github.com/snarg/vox-engine/internal/keyvault"
	"github.com/snarg/vox-engine/internal/metrics"
	"github.com/snarg/vox-engine/internal/storage"
)

// Store is the database surface of the API. *database.DB satisfies it.
type Store interface {
	TokenStore

	GetAudioFileByID(ctx context.Context, fileID uuid.UUID) (*database.AudioFile, error)
	ListAudioFiles(ctx context.Context, userID string, limit, offset int) ([]database.AudioFile, error)
	DeleteAudioFile(ctx context.Context, userID string, fileID uuid.UUID) error

	GetJob(ctx context.Context, jobID uuid.UUID) (*database.Job, error)
	JobsByUser(ctx context.Context, userID string, limit, offset int) ([]database.Job, error)

	ListTranscripts(ctx context.Context, userID string, limit, offset int) ([]database.Transcript, error)

	ListSummaries(ctx context.Context, key []byte, userID string, limit int) ([]database.DailySummary, error)
	GetSummary(ctx context.Context, key []byte, userID string, date time.Time) (*database.DailySummary, error)
	DeleteSummary(ctx context.Context, userID string, summaryID uuid.UUID) error

	GetPreferences(ctx context.Context, userID string) (*database.Preferences, error)
	UpsertPreferences(ctx context.Context, p *database.Preferences) error
}

// Accounts is the ledger read surface. *ledger.Ledger satisfies it.
type Accounts interface {
	Account(ctx context.Context, userID string) (*database.CreditAccount, error)
	Summary(ctx context.Context, userID, month string) ([]database.ServiceTotal, error)
}

// Registrar accepts new audio registrations. *ingest.Ingestor satisfies it.
type Registrar interface {
	RegisterAudio(ctx context.Context, userID, blobKey string, sizeBytes int64, recordedAt time.Time) (*database.AudioFile, *database.Job, error)
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, store Store, reg Registrar, accounts Accounts,
	keys keyvault.Vault, blobs storage.BlobStore, health http.Handler,
	log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(metrics.InstrumentHandler)

	// Unauthenticated surface.
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	audio := &AudioHandler{store: store, reg: reg, blobs: blobs}
	jobs := &JobsHandler{store: store}
	transcripts := &TranscriptsHandler{store: store}
	summaries := &SummariesHandler{store: store, keys: keys}
	prefs := &PrefsHandler{store: store}
	account := &AccountHandler{accounts: accounts, keys: keys}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(TokenAuth(store))

		r.With(RateLimit(cfg.RateLimitTranscribe)).Post("/audio", audio.Register)
		r.Get("/audio", audio.List)
		r.Get("/audio/{file_id}", audio.Get)
		r.Delete("/audio/{file_id}", audio.Delete)
		r.Get("/presign", audio.Presign)

		r.Get("/jobs", jobs.List)
		r.Get("/jobs/{job_id}", jobs.Get)

		r.Get("/transcripts", transcripts.List)

		// The export route must be registered before the {date} wildcard.
		r.Get("/summaries/export", summaries.Export)
		r.Get("/summaries", summaries.List)
		r.Get("/summaries/{date}", summaries.Get)
		r.Delete("/summaries/{id}", summaries.Delete)

		r.Get("/prefs", prefs.Get)
		r.Put("/prefs", prefs.Put)

		r.Get("/key", account.Key)
		r.Get("/credit", account.Credit)
		r.Get("/costs", account.Costs)
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
