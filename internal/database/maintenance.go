package database

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Maintenance deletes terminal jobs past the retention horizon. Runs daily
// from main; failures are logged, never fatal.
type Maintenance struct {
	db        *DB
	retention time.Duration
	log       zerolog.Logger
	stop      chan struct{}
	done      chan struct{}
}

// NewMaintenance creates the retention sweeper.
func NewMaintenance(db *DB, retention time.Duration, log zerolog.Logger) *Maintenance {
	return &Maintenance{
		db:        db,
		retention: retention,
		log:       log,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the sweep loop. One pass at startup, then every 24 h.
func (m *Maintenance) Start() {
	go func() {
		defer close(m.done)
		m.sweep()
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop halts the loop and waits for any in-flight sweep.
func (m *Maintenance) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Maintenance) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-m.retention)
	deleted, err := m.db.DeleteTerminalJobsBefore(ctx, cutoff)
	if err != nil {
		m.log.Error().Err(err).Msg("job retention sweep failed")
		return
	}
	if deleted > 0 {
		m.log.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("purged terminal jobs")
	}
}
