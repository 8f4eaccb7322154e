// Package service реализует бизнес-логику бронирования туров: создание брони,
// учёт мест, применение платежей от шлюзов и административные операции.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mmeshcher/tourbooking-system/internal/model"
	"github.com/mmeshcher/tourbooking-system/internal/payment"
	"github.com/mmeshcher/tourbooking-system/internal/repository"
)

const instrumentationName = "github.com/mmeshcher/tourbooking-system/internal/service"

// DefaultDepositRate задаёт долю депозита, если тур ещё не набрал минимум гостей.
const DefaultDepositRate = 0.2

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error
	CreateTour(ctx context.Context, t *model.Tour) error
	GetTour(ctx context.Context, id uuid.UUID) (*model.Tour, error)
	ListTourEvents(ctx context.Context, tourID uuid.UUID) ([]model.TourEvent, error)
	GetBookingByCode(ctx context.Context, code string) (*model.Booking, error)
	GetBookingByID(ctx context.Context, id uuid.UUID) (*model.Booking, error)
	ListBookingsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.Booking, int, error)
	ListBookings(ctx context.Context, f model.BookingFilter) ([]model.Booking, int, error)
	ListCapacityConflicts(ctx context.Context) ([]model.Booking, error)
	ListDepositedBookings(ctx context.Context, tourID uuid.UUID) ([]model.Booking, error)
	DeleteBooking(ctx context.Context, id uuid.UUID) error
	PaymentStats(ctx context.Context) (*model.PaymentStats, error)
}

// Notifier принимает уведомления после фиксации транзакции. Вызовы не блокируются.
type Notifier interface {
	DepositReceived(b model.Booking)
	FullyPaid(b model.Booking)
	TourConfirmed(tourID uuid.UUID)
}

type nopNotifier struct{}

func (nopNotifier) DepositReceived(model.Booking) {}
func (nopNotifier) FullyPaid(model.Booking)       {}
func (nopNotifier) TourConfirmed(uuid.UUID)       {}

// Options задаёт параметры бизнес-правил.
type Options struct {
	// DepositRate задаёт долю депозита для тура, не набравшего минимум гостей.
	DepositRate float64
}

type counters struct {
	applied   metric.Int64Counter
	duplicate metric.Int64Counter
	conflicts metric.Int64Counter
	bookings  metric.Int64Counter
}

// Service содержит бизнес-логику сервиса бронирования туров.
type Service struct {
	repo     Repository
	gateways payment.Registry
	notifier Notifier
	logger   *zap.Logger
	opts     Options
	now      func() time.Time
	tracer   trace.Tracer
	metrics  counters
}

// NewService создаёт сервис. notifier может быть nil, тогда уведомления не отправляются.
func NewService(repo Repository, gateways payment.Registry, notifier Notifier, logger *zap.Logger, opts Options) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DepositRate <= 0 || opts.DepositRate > 1 {
		opts.DepositRate = DefaultDepositRate
	}

	s := &Service{
		repo:     repo,
		gateways: gateways,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
		tracer:   otel.Tracer(instrumentationName),
	}
	s.initMetrics()
	return s
}

func (s *Service) initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error
	if s.metrics.applied, err = meter.Int64Counter("settlements.applied",
		metric.WithDescription("Payments applied to bookings")); err != nil {
		s.logger.Warn("create metric", zap.Error(err))
	}
	if s.metrics.duplicate, err = meter.Int64Counter("settlements.duplicate",
		metric.WithDescription("Repeated gateway callbacks ignored by the payment ledger")); err != nil {
		s.logger.Warn("create metric", zap.Error(err))
	}
	if s.metrics.conflicts, err = meter.Int64Counter("capacity.conflicts",
		metric.WithDescription("First deposits that found the tour sold out")); err != nil {
		s.logger.Warn("create metric", zap.Error(err))
	}
	if s.metrics.bookings, err = meter.Int64Counter("bookings.created",
		metric.WithDescription("Bookings created")); err != nil {
		s.logger.Warn("create metric", zap.Error(err))
	}
}

func addCounter(ctx context.Context, c metric.Int64Counter, opts ...metric.AddOption) {
	if c != nil {
		c.Add(ctx, 1, opts...)
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// translateRepoError приводит ошибки хранилища к ошибкам сервиса.
func translateRepoError(err error, key string) error {
	switch {
	case errors.Is(err, repository.ErrTourNotFound):
		return &NotFoundError{Entity: "tour", Key: key}
	case errors.Is(err, repository.ErrBookingNotFound):
		return &NotFoundError{Entity: "booking", Key: key}
	}
	return err
}
