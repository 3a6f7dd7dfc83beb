package views

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"fact-feed/internal/domain"
	"fact-feed/internal/infra/metrics"
	"fact-feed/internal/usecase/invalidation"
)

// Service записывает просмотры фактов.
type Service struct {
	facts       domain.FactRepo
	ledger      domain.ViewLedger
	invalidator *invalidation.Coordinator
	log         zerolog.Logger
}

// NewService создаёт сервис просмотров.
func NewService(facts domain.FactRepo, ledger domain.ViewLedger, invalidator *invalidation.Coordinator, logger zerolog.Logger) *Service {
	return &Service{
		facts:       facts,
		ledger:      ledger,
		invalidator: invalidator,
		log:         logger.With().Str("component", "views").Logger(),
	}
}

// RecordView отмечает факт просмотренным. Повторный просмотр той же пары
// (зритель, факт) не создаёт новую запись и не считается ошибкой.
func (s *Service) RecordView(ctx context.Context, factID string, subject domain.Subject) error {
	factID = strings.TrimSpace(factID)
	if factID == "" {
		return fmt.Errorf("%w: айди факта обязателен", domain.ErrValidation)
	}
	if subject.IsZero() {
		return fmt.Errorf("%w: айди пользователя или анонимный айди обязательны", domain.ErrValidation)
	}
	if _, err := s.facts.GetFact(ctx, factID); err != nil {
		return fmt.Errorf("получение факта: %w", err)
	}
	created, err := s.ledger.InsertView(ctx, domain.ViewEvent{Subject: subject, FactID: factID})
	if err != nil {
		metrics.IncViewRecorded(string(subject.Kind), "error")
		return fmt.Errorf("запись просмотра: %w", err)
	}
	if !created {
		metrics.IncViewRecorded(string(subject.Kind), "duplicate")
		s.log.Debug().Str("subject", subject.Key()).Str("fact_id", factID).Msg("views: повторный просмотр")
		return nil
	}
	metrics.IncViewRecorded(string(subject.Kind), "created")
	s.invalidator.Apply(ctx, invalidation.Event{Mutation: invalidation.ViewRecorded, Subject: subject})
	return nil
}
