package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mmeshcher/tourbooking-system/internal/model"
	"github.com/mmeshcher/tourbooking-system/internal/payment"
	"github.com/mmeshcher/tourbooking-system/internal/repository"
)

const (
	maxCodeAttempts = 5

	defaultPageLimit = 10
	maxPageLimit     = 50
)

// Contact содержит контактные данные гостя.
type Contact struct {
	FullName    string `validate:"notblank"`
	Email       string `validate:"required,email"`
	PhoneNumber string `validate:"required,phone"`
	Address     string
}

// CreateBookingInput задаёт каноническое представление запроса на бронирование.
type CreateBookingInput struct {
	TourID        uuid.UUID `validate:"required"`
	NumAdults     int       `validate:"gte=0"`
	NumChildren   int       `validate:"gte=0"`
	Contact       Contact
	Note          string
	PaymentMethod string
	ClientIP      string
	BankCode      string
}

func (in *CreateBookingInput) validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if in.NumAdults+in.NumChildren == 0 {
		return validationf("at least one guest is required")
	}
	return nil
}

// Pricing содержит расчёт стоимости бронирования.
type Pricing struct {
	PriceAdult    int64
	PriceChild    int64
	Total         int64
	DepositRate   float64
	DepositAmount int64
}

// Quote рассчитывает стоимость и депозит для тура в его текущем состоянии.
// Для тура, уже набравшего минимум гостей, требуется полная оплата.
func Quote(t *model.Tour, adults, children int, defaultRate float64) Pricing {
	p := Pricing{
		PriceAdult: t.PriceAdult,
		PriceChild: t.EffectivePriceChild(),
	}
	p.Total = int64(adults)*p.PriceAdult + int64(children)*p.PriceChild

	p.DepositRate = defaultRate
	if t.AlreadyConfirmed() {
		p.DepositRate = 1
	}
	p.DepositAmount = int64(math.Round(float64(p.Total) * p.DepositRate))
	return p
}

// CreateBookingResult описывает результат создания бронирования.
// PaymentURL пуст, если шлюз не вернул ссылку; причина в PaymentError.
type CreateBookingResult struct {
	Booking      *model.Booking
	Pricing      Pricing
	PaymentURL   string
	PaymentError string
}

// CreateBooking проверяет места и создаёт бронирование в одной транзакции,
// затем запрашивает у шлюза ссылку на оплату депозита.
func (s *Service) CreateBooking(ctx context.Context, userID uuid.UUID, in CreateBookingInput) (*CreateBookingResult, error) {
	ctx, span := s.tracer.Start(ctx, "service.create_booking", trace.WithAttributes(
		attribute.String("tour.id", in.TourID.String()),
		attribute.Int("guests", in.NumAdults+in.NumChildren),
	))
	defer span.End()

	if err := in.validate(); err != nil {
		return nil, err
	}
	method := model.NormalizePaymentMethod(in.PaymentMethod)

	var (
		booking *model.Booking
		pricing Pricing
	)
	err := s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		tour, err := tx.LockTour(ctx, in.TourID)
		if err != nil {
			return translateRepoError(err, in.TourID.String())
		}
		if !tour.AcceptsBookings() {
			return validationf("tour is %s and does not accept bookings", tour.Status)
		}

		guests := in.NumAdults + in.NumChildren
		if ok, remaining := tour.CheckCapacity(guests); !ok {
			return &CapacityExceededError{Remaining: remaining}
		}

		pricing = Quote(tour, in.NumAdults, in.NumChildren, s.opts.DepositRate)

		b := &model.Booking{
			TourID:             tour.ID,
			UserID:             userID,
			FullName:           strings.TrimSpace(in.Contact.FullName),
			Email:              strings.TrimSpace(in.Contact.Email),
			PhoneNumber:        strings.TrimSpace(in.Contact.PhoneNumber),
			Address:            strings.TrimSpace(in.Contact.Address),
			Note:               strings.TrimSpace(in.Note),
			NumAdults:          in.NumAdults,
			NumChildren:        in.NumChildren,
			TotalPrice:         pricing.Total,
			DepositRate:        pricing.DepositRate,
			DepositAmount:      pricing.DepositAmount,
			RequireFullPayment: pricing.DepositRate >= 1,
			Status:             model.BookingStatusPending,
			PaymentMethod:      method,
		}

		for attempt := 0; attempt < maxCodeAttempts; attempt++ {
			code, err := model.NewBookingCode()
			if err != nil {
				return err
			}
			b.Code = code

			err = tx.InsertBooking(ctx, b)
			if errors.Is(err, repository.ErrDuplicateBookingCode) {
				s.logger.Debug("booking code collision, retrying", zap.String("code", code))
				continue
			}
			if err != nil {
				return fmt.Errorf("insert booking: %w", err)
			}
			booking = b
			return nil
		}
		return &ConflictError{Msg: "could not generate a unique booking code"}
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	addCounter(ctx, s.metrics.bookings, metric.WithAttributes(attribute.String("payment.method", string(method))))
	span.SetAttributes(attribute.String("booking.code", booking.Code))

	s.logger.Info("booking created",
		zap.String("code", booking.Code),
		zap.Stringer("tourID", booking.TourID),
		zap.Int("guests", booking.Guests()),
		zap.Int64("total", booking.TotalPrice),
		zap.Int64("deposit", booking.DepositAmount),
	)

	result := &CreateBookingResult{Booking: booking, Pricing: pricing}

	payURL, err := s.requestPaymentURL(ctx, booking, booking.DepositAmount, in.ClientIP, in.BankCode)
	if err != nil {
		s.logger.Warn("payment url error", zap.Error(err), zap.String("code", booking.Code))
		result.PaymentError = err.Error()
	}
	result.PaymentURL = payURL

	return result, nil
}

// requestPaymentURL запрашивает ссылку у шлюза способа оплаты бронирования.
// Для оплаты в офисе или курьеру ссылка не нужна.
func (s *Service) requestPaymentURL(ctx context.Context, b *model.Booking, amount int64, clientIP, bankCode string) (string, error) {
	if b.PaymentMethod.Offline() || amount <= 0 {
		return "", nil
	}

	gw, ok := s.gateways.Get(b.PaymentMethod)
	if !ok {
		return "", &UpstreamGatewayError{Provider: string(b.PaymentMethod), Err: payment.ErrNotConfigured}
	}

	payURL, err := gw.BuildRedirectURL(ctx, payment.RedirectRequest{
		BookingCode: b.Code,
		Amount:      amount,
		ClientIP:    clientIP,
		BankCode:    bankCode,
	})
	if err != nil {
		return "", &UpstreamGatewayError{Provider: string(b.PaymentMethod), Err: err}
	}
	return payURL, nil
}

// BookingPage описывает страницу списка бронирований.
type BookingPage struct {
	Bookings []model.Booking
	Total    int
	Page     int
	Limit    int
}

// Pages возвращает число страниц.
func (p *BookingPage) Pages() int {
	if p.Limit <= 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

// ListMyBookings возвращает бронирования пользователя, новые первыми.
func (s *Service) ListMyBookings(ctx context.Context, userID uuid.UUID, page, limit int) (*BookingPage, error) {
	page, limit = normalizePage(page, limit)

	list, total, err := s.repo.ListBookingsByUser(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return &BookingPage{Bookings: list, Total: total, Page: page, Limit: limit}, nil
}

// GetMyBooking возвращает бронирование пользователя по коду.
// Чужое бронирование неотличимо от несуществующего.
func (s *Service) GetMyBooking(ctx context.Context, userID uuid.UUID, code string) (*model.Booking, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	b, err := s.repo.GetBookingByCode(ctx, code)
	if err != nil {
		return nil, translateRepoError(err, code)
	}
	if b.UserID != userID {
		return nil, &NotFoundError{Entity: "booking", Key: code}
	}
	return b, nil
}

// CancelMyBooking отменяет ожидающее бронирование пользователя.
// Места, занятые внесённым депозитом, не освобождаются.
func (s *Service) CancelMyBooking(ctx context.Context, userID uuid.UUID, code string) (*model.Booking, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	var booking *model.Booking
	err := s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		b, err := tx.LockBookingByCode(ctx, code)
		if err != nil {
			return translateRepoError(err, code)
		}
		if b.UserID != userID {
			return &NotFoundError{Entity: "booking", Key: code}
		}
		if b.Status != model.BookingStatusPending {
			return &ConflictError{Msg: fmt.Sprintf("booking %s is %s and cannot be canceled", code, b.Status)}
		}

		if err := tx.UpdateBookingStatus(ctx, b.ID, model.BookingStatusCanceled); err != nil {
			return fmt.Errorf("update booking status: %w", err)
		}
		b.Status = model.BookingStatusCanceled
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	if booking.DepositPaid {
		s.logger.Warn("booking with paid deposit canceled, refund needs manual handling",
			zap.String("code", booking.Code),
			zap.Int64("paid", booking.PaidAmount),
		)
	} else {
		s.logger.Info("booking canceled", zap.String("code", booking.Code))
	}
	return booking, nil
}

// PaymentInitResult содержит новую ссылку на оплату существующего бронирования.
type PaymentInitResult struct {
	Booking    *model.Booking
	Amount     int64
	PaymentURL string
}

// InitiatePayment повторно запрашивает ссылку на оплату. До внесения депозита
// запрашивается остаток депозита, после него остаток полной стоимости.
func (s *Service) InitiatePayment(ctx context.Context, userID uuid.UUID, code, clientIP, bankCode string) (*PaymentInitResult, error) {
	b, err := s.GetMyBooking(ctx, userID, code)
	if err != nil {
		return nil, err
	}

	switch {
	case b.Status == model.BookingStatusCanceled:
		return nil, &ConflictError{Msg: fmt.Sprintf("booking %s is canceled", b.Code)}
	case b.Remaining() == 0:
		return nil, &ConflictError{Msg: fmt.Sprintf("booking %s is already fully paid", b.Code)}
	case b.PaymentMethod.Offline():
		return nil, &ConflictError{Msg: fmt.Sprintf("booking %s is paid via %s", b.Code, b.PaymentMethod)}
	}

	amount := b.AmountDue()
	payURL, err := s.requestPaymentURL(ctx, b, amount, clientIP, bankCode)
	if err != nil {
		s.logger.Error("payment url error", zap.Error(err), zap.String("code", b.Code))
		return nil, err
	}

	return &PaymentInitResult{Booking: b, Amount: amount, PaymentURL: payURL}, nil
}
