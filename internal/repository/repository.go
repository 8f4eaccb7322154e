package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/tourbooking-system/internal/model"
)

var (
	// ErrTourNotFound возвращается, если тур не найден.
	ErrTourNotFound = errors.New("tour not found")
	// ErrBookingNotFound возвращается, если бронирование не найдено.
	ErrBookingNotFound = errors.New("booking not found")
	// ErrDuplicateBookingCode возвращается при коллизии кода бронирования.
	ErrDuplicateBookingCode = errors.New("booking code already exists")
	// ErrCapacityExceeded возвращается условным увеличением счётчика гостей, если мест не хватает.
	ErrCapacityExceeded = errors.New("tour capacity exceeded")
)

// Tx описывает операции, выполняемые внутри одной транзакции хранилища.
// Методы Lock* блокируют строку до конца транзакции.
type Tx interface {
	LockTour(ctx context.Context, id uuid.UUID) (*model.Tour, error)
	InsertBooking(ctx context.Context, b *model.Booking) error
	LockBookingByCode(ctx context.Context, code string) (*model.Booking, error)
	LockBookingByID(ctx context.Context, id uuid.UUID) (*model.Booking, error)
	// AppendPaymentRef добавляет запись в журнал платежей и возвращает false, если пара (provider, ref) уже есть.
	AppendPaymentRef(ctx context.Context, bookingID uuid.UUID, ref model.PaymentRef) (bool, error)
	UpdateBookingPayment(ctx context.Context, b *model.Booking) error
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, status model.BookingStatus) error
	// IncrementGuests атомарно увеличивает счётчик гостей, только если не превышается quantity.
	// При нехватке мест возвращает текущее состояние тура и ErrCapacityExceeded.
	IncrementGuests(ctx context.Context, tourID uuid.UUID, n int) (*model.Tour, error)
	// ConfirmTourIfReached переводит тур из pending в confirmed, если набран минимум гостей.
	// Возвращает true только для вызова, выполнившего переход.
	ConfirmTourIfReached(ctx context.Context, tourID uuid.UUID, at time.Time) (bool, error)
	UpdateTourStatus(ctx context.Context, tourID uuid.UUID, status model.TourStatus, at time.Time) error
	InsertTourEvent(ctx context.Context, e *model.TourEvent) error
}
