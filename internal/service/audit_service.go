package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctoring/internal/audit"
	"github.com/stemsi/exstem-proctoring/internal/repository"
)

// AuditService exposes persisted vendor call failures to administrators.
type AuditService struct {
	failureRepo *repository.FailureRepository
	log         zerolog.Logger
}

func NewAuditService(failureRepo *repository.FailureRepository, log zerolog.Logger) *AuditService {
	return &AuditService{
		failureRepo: failureRepo,
		log:         log.With().Str("component", "audit_service").Logger(),
	}
}

// RecentFailures lists failures of the last window, at most limit rows.
func (s *AuditService) RecentFailures(ctx context.Context, window time.Duration, limit int) ([]audit.Failure, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	failures, err := s.failureRepo.ListRecent(ctx, time.Now().Add(-window), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list remote failures")
		return nil, err
	}
	return failures, nil
}
