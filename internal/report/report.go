// Package report accepts abuse reports and hands them to moderation.
// Filing a report is independent of session state: it never ends the
// session by itself.
package report

import (
	"context"

	"github.com/rs/zerolog"

	"pairgo/backend/internal/models"
)

// Store is the slice of the session store the report service needs.
type Store interface {
	CreateReport(r *models.Report) error
}

// Notifier pushes a new report to moderation out of band.
type Notifier interface {
	NotifyReport(ctx context.Context, r *models.Report) error
}

// Service persists reports and notifies moderation.
type Service struct {
	store    Store
	notifier Notifier
	log      zerolog.Logger
}

// NewService creates a report service. notifier may be nil.
func NewService(store Store, notifier Notifier, log zerolog.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		log:      log.With().Str("component", "report").Logger(),
	}
}

// Submit persists the report and notifies moderation in the
// background. A failed notification is logged, never surfaced to the
// reporter: the record is already durable.
func (s *Service) Submit(ctx context.Context, r *models.Report) error {
	if r.Status == "" {
		r.Status = models.ReportStatusNew
	}
	if err := s.store.CreateReport(r); err != nil {
		return err
	}
	s.log.Info().
		Str("reporter", r.ReporterID).
		Str("reported", r.ReportedID).
		Str("reason", r.Reason).
		Msg("report filed")

	if s.notifier != nil {
		go func() {
			if err := s.notifier.NotifyReport(context.WithoutCancel(ctx), r); err != nil {
				s.log.Error().Err(err).Uint("report", r.ID).Msg("moderation notify failed")
			}
		}()
	}
	return nil
}
