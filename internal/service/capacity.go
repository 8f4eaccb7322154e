package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/mmeshcher/tourbooking-system/internal/model"
	"github.com/mmeshcher/tourbooking-system/internal/repository"
)

// CapacityCheck описывает результат проверки свободных мест. Remaining равен -1 для тура без ограничения.
type CapacityCheck struct {
	OK        bool
	Remaining int
}

// CheckCapacity сообщает, поместятся ли guests гостей в тур.
func (s *Service) CheckCapacity(ctx context.Context, tourID uuid.UUID, guests int) (CapacityCheck, error) {
	if guests <= 0 {
		return CapacityCheck{}, validationf("guests must be positive")
	}

	tour, err := s.repo.GetTour(ctx, tourID)
	if err != nil {
		return CapacityCheck{}, translateRepoError(err, tourID.String())
	}

	ok, remaining := tour.CheckCapacity(guests)
	return CapacityCheck{OK: ok, Remaining: remaining}, nil
}

// IncrementGuests занимает guests мест в туре условным обновлением счётчика
// и возвращает новое число гостей.
func (s *Service) IncrementGuests(ctx context.Context, tourID uuid.UUID, guests int) (int, error) {
	if guests <= 0 {
		return 0, validationf("guests must be positive")
	}

	var total int
	err := s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		tour, err := tx.IncrementGuests(ctx, tourID, guests)
		if errors.Is(err, repository.ErrCapacityExceeded) {
			remaining, _ := tour.Remaining()
			return &CapacityExceededError{Remaining: remaining}
		}
		if err != nil {
			return translateRepoError(err, tourID.String())
		}
		total = tour.CurrentGuests
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Availability содержит публичные сведения о местах и ценах тура.
type Availability struct {
	TourID        uuid.UUID
	Status        model.TourStatus
	Quantity      *int
	CurrentGuests int
	// Remaining равен nil для тура без ограничения.
	Remaining  *int
	MinGuests  int
	PriceAdult int64
	PriceChild int64
	Open       bool
}

// GetTourAvailability возвращает свободные места и цены тура.
func (s *Service) GetTourAvailability(ctx context.Context, tourID uuid.UUID) (*Availability, error) {
	tour, err := s.repo.GetTour(ctx, tourID)
	if err != nil {
		return nil, translateRepoError(err, tourID.String())
	}

	a := &Availability{
		TourID:        tour.ID,
		Status:        tour.Status,
		Quantity:      tour.Quantity,
		CurrentGuests: tour.CurrentGuests,
		MinGuests:     tour.MinGuests,
		PriceAdult:    tour.PriceAdult,
		PriceChild:    tour.EffectivePriceChild(),
		Open:          tour.AcceptsBookings(),
	}
	if remaining, limited := tour.Remaining(); limited {
		a.Remaining = &remaining
	}
	return a, nil
}
