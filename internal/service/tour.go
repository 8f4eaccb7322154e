package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/tourbooking-system/internal/model"
	"github.com/mmeshcher/tourbooking-system/internal/repository"
)

// TourEventInput описывает событие хронологии тура от администратора.
type TourEventInput struct {
	Type string
	Note string
	// At задаёт время события, нулевое значение означает текущее время.
	At time.Time
}

// AddTourEvent добавляет событие в хронологию тура. Событие departed переводит
// подтверждённый тур в in_progress, а finished переводит тур в пути в completed.
func (s *Service) AddTourEvent(ctx context.Context, tourID, adminID uuid.UUID, in TourEventInput) (*model.TourEvent, error) {
	eventType, err := model.ParseTourEventType(in.Type)
	if err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}
	at := in.At
	if at.IsZero() {
		at = s.now()
	}

	event := &model.TourEvent{
		TourID:    tourID,
		Type:      eventType,
		Note:      strings.TrimSpace(in.Note),
		At:        at.UTC(),
		CreatedBy: adminID,
	}

	err = s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		tour, err := tx.LockTour(ctx, tourID)
		if err != nil {
			return translateRepoError(err, tourID.String())
		}

		var next model.TourStatus
		switch eventType {
		case model.TourEventDeparted:
			if tour.Status != model.TourStatusConfirmed {
				return &ConflictError{Msg: fmt.Sprintf("tour is %s, only confirmed tours can depart", tour.Status)}
			}
			next = model.TourStatusInProgress
		case model.TourEventFinished:
			if tour.Status != model.TourStatusInProgress {
				return &ConflictError{Msg: fmt.Sprintf("tour is %s, only tours in progress can finish", tour.Status)}
			}
			next = model.TourStatusCompleted
		}

		if next != "" {
			if err := tx.UpdateTourStatus(ctx, tourID, next, event.At); err != nil {
				return fmt.Errorf("update tour status: %w", err)
			}
		}
		if err := tx.InsertTourEvent(ctx, event); err != nil {
			return fmt.Errorf("insert tour event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("tour event recorded", zap.Stringer("tourID", tourID), zap.String("type", string(eventType)))
	return event, nil
}

// ListTourEvents возвращает хронологию тура.
func (s *Service) ListTourEvents(ctx context.Context, tourID uuid.UUID) ([]model.TourEvent, error) {
	if _, err := s.repo.GetTour(ctx, tourID); err != nil {
		return nil, translateRepoError(err, tourID.String())
	}
	events, err := s.repo.ListTourEvents(ctx, tourID)
	if err != nil {
		return nil, fmt.Errorf("list tour events: %w", err)
	}
	return events, nil
}

// CloseTour закрывает продажи тура, который ещё не отправился.
func (s *Service) CloseTour(ctx context.Context, tourID uuid.UUID) (*model.Tour, error) {
	var closed *model.Tour
	err := s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		tour, err := tx.LockTour(ctx, tourID)
		if err != nil {
			return translateRepoError(err, tourID.String())
		}
		switch tour.Status {
		case model.TourStatusPending, model.TourStatusConfirmed:
		default:
			return &ConflictError{Msg: fmt.Sprintf("tour is %s and cannot be closed", tour.Status)}
		}

		now := s.now().UTC()
		if err := tx.UpdateTourStatus(ctx, tourID, model.TourStatusClosed, now); err != nil {
			return fmt.Errorf("update tour status: %w", err)
		}
		tour.Status = model.TourStatusClosed
		tour.UpdatedAt = now
		closed = tour
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("tour closed", zap.Stringer("tourID", tourID))
	return closed, nil
}

// CreateTour сохраняет новый тур.
func (s *Service) CreateTour(ctx context.Context, t *model.Tour) error {
	if err := validateStruct(t); err != nil {
		return err
	}
	if err := s.repo.CreateTour(ctx, t); err != nil {
		return fmt.Errorf("create tour: %w", err)
	}
	return nil
}
