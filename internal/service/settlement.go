package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mmeshcher/tourbooking-system/internal/model"
	"github.com/mmeshcher/tourbooking-system/internal/repository"
)

// Settlement описывает подтверждённый платёж, который нужно записать на бронирование.
// Бронирование задаётся кодом или идентификатором.
type Settlement struct {
	BookingCode string `validate:"required_without=BookingID"`
	BookingID   uuid.UUID
	Provider    string `validate:"notblank"`
	Ref         string `validate:"notblank"`
	Amount      int64  `validate:"gte=0"`
	At          time.Time
	Note        string
}

// SettlementResult описывает, что изменил платёж.
type SettlementResult struct {
	Booking *model.Booking
	// Applied равно false, если пара (Provider, Ref) уже была записана.
	Applied          bool
	FirstDeposit     bool
	BecameConfirmed  bool
	TourConfirmed    bool
	CapacityConflict bool
	// Remaining содержит свободные места тура на момент конфликта.
	Remaining int
}

func (st *Settlement) validate() error {
	return validateStruct(st)
}

// ApplySettlement идемпотентно записывает платёж: журнал, сумма, депозит, статус,
// места в туре и подтверждение тура меняются в одной транзакции.
// Повтор с той же парой (Provider, Ref) ничего не меняет и не рассылает уведомлений.
func (s *Service) ApplySettlement(ctx context.Context, st Settlement) (*SettlementResult, error) {
	ctx, span := s.tracer.Start(ctx, "service.apply_settlement", trace.WithAttributes(
		attribute.String("booking.code", st.BookingCode),
		attribute.String("payment.provider", st.Provider),
		attribute.String("payment.ref", st.Ref),
		attribute.Int64("payment.amount", st.Amount),
	))
	defer span.End()

	if err := st.validate(); err != nil {
		return nil, err
	}
	if st.At.IsZero() {
		st.At = s.now()
	}
	st.At = st.At.UTC()

	var res *SettlementResult
	err := s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		r, err := s.settle(ctx, tx, st)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	b := res.Booking
	span.SetAttributes(attribute.Bool("settlement.applied", res.Applied))

	if !res.Applied {
		addCounter(ctx, s.metrics.duplicate, metric.WithAttributes(attribute.String("payment.provider", st.Provider)))
		s.logger.Info("settlement already applied",
			zap.String("code", b.Code),
			zap.String("provider", st.Provider),
			zap.String("ref", st.Ref),
		)
		return res, nil
	}

	addCounter(ctx, s.metrics.applied, metric.WithAttributes(attribute.String("payment.provider", st.Provider)))
	s.logger.Info("settlement applied",
		zap.String("code", b.Code),
		zap.String("provider", st.Provider),
		zap.String("ref", st.Ref),
		zap.Int64("amount", st.Amount),
		zap.Int64("paid", b.PaidAmount),
		zap.Int64("total", b.TotalPrice),
		zap.Bool("firstDeposit", res.FirstDeposit),
	)

	if res.CapacityConflict {
		addCounter(ctx, s.metrics.conflicts)
		s.logger.Error("capacity exceeded while paying, booking needs reconciliation",
			zap.String("code", b.Code),
			zap.Stringer("tourID", b.TourID),
			zap.Int("guests", b.Guests()),
			zap.Int("remaining", res.Remaining),
		)
	}

	switch {
	case b.Status == model.BookingStatusCanceled:
	case res.FirstDeposit:
		s.notifier.DepositReceived(*b)
	case res.BecameConfirmed:
		s.notifier.FullyPaid(*b)
	}
	if res.TourConfirmed {
		s.logger.Info("tour confirmed", zap.Stringer("tourID", b.TourID), zap.String("code", b.Code))
		s.notifier.TourConfirmed(b.TourID)
	}

	return res, nil
}

// settle выполняет шаги применения платежа внутри транзакции.
// Блокировки берутся в порядке бронирование, затем тур.
func (s *Service) settle(ctx context.Context, tx repository.Tx, st Settlement) (*SettlementResult, error) {
	var (
		b   *model.Booking
		err error
	)
	if st.BookingID != uuid.Nil {
		b, err = tx.LockBookingByID(ctx, st.BookingID)
	} else {
		b, err = tx.LockBookingByCode(ctx, st.BookingCode)
	}
	if err != nil {
		key := st.BookingCode
		if key == "" {
			key = st.BookingID.String()
		}
		return nil, translateRepoError(err, key)
	}

	ref := model.PaymentRef{
		Provider: st.Provider,
		Ref:      st.Ref,
		Amount:   st.Amount,
		Note:     st.Note,
		At:       st.At,
	}
	inserted, err := tx.AppendPaymentRef(ctx, b.ID, ref)
	if err != nil {
		return nil, fmt.Errorf("append payment ref: %w", err)
	}

	res := &SettlementResult{Booking: b}
	if !inserted {
		return res, nil
	}
	res.Applied = true
	b.PaymentRefs = append(b.PaymentRefs, ref)

	res.FirstDeposit = !b.DepositPaid && st.Amount > 0
	b.PaidAmount += st.Amount
	if res.FirstDeposit {
		b.DepositPaid = true
	}

	switch b.Status {
	case model.BookingStatusPending:
		if b.PaidAmount >= b.TotalPrice {
			b.Status = model.BookingStatusConfirmed
			res.BecameConfirmed = true
		}
	case model.BookingStatusCanceled:
		s.logger.Warn("payment received for canceled booking",
			zap.String("code", b.Code),
			zap.String("provider", st.Provider),
			zap.Int64("amount", st.Amount),
		)
	}

	if res.FirstDeposit && b.Status != model.BookingStatusCanceled {
		if err := s.takeSeats(ctx, tx, b, st.At, res); err != nil {
			return nil, err
		}
	}

	if err := tx.UpdateBookingPayment(ctx, b); err != nil {
		return nil, fmt.Errorf("update booking payment: %w", err)
	}
	return res, nil
}

// takeSeats условно увеличивает счётчик гостей тура и подтверждает тур при достижении минимума.
// Нехватка мест не отменяет платёж: бронирование помечается для ручной сверки.
func (s *Service) takeSeats(ctx context.Context, tx repository.Tx, b *model.Booking, at time.Time, res *SettlementResult) error {
	tour, err := tx.IncrementGuests(ctx, b.TourID, b.Guests())
	switch {
	case errors.Is(err, repository.ErrCapacityExceeded):
		b.CapacityConflict = true
		res.CapacityConflict = true
		if tour != nil {
			res.Remaining, _ = tour.Remaining()
		}
		return nil
	case errors.Is(err, repository.ErrTourNotFound):
		s.logger.Error("tour of paid booking not found", zap.String("code", b.Code), zap.Stringer("tourID", b.TourID))
		return nil
	case err != nil:
		return fmt.Errorf("increment guests: %w", err)
	}

	confirmed, err := tx.ConfirmTourIfReached(ctx, b.TourID, at)
	if err != nil {
		return fmt.Errorf("confirm tour: %w", err)
	}
	res.TourConfirmed = confirmed
	return nil
}

// CallbackKind обозначает итог обработки обратного вызова шлюза.
type CallbackKind int

const (
	CallbackError CallbackKind = iota
	CallbackInvalidSignature
	CallbackNotFound
	CallbackPaymentFailed
	CallbackAlreadyApplied
	CallbackApplied
)

func (k CallbackKind) String() string {
	switch k {
	case CallbackInvalidSignature:
		return "invalid_signature"
	case CallbackNotFound:
		return "not_found"
	case CallbackPaymentFailed:
		return "payment_failed"
	case CallbackAlreadyApplied:
		return "already_applied"
	case CallbackApplied:
		return "applied"
	}
	return "error"
}

// CallbackOutcome описывает результат обработки обратного вызова; обработчики HTTP
// переводят его в ответ, требуемый конкретным шлюзом.
type CallbackOutcome struct {
	Kind       CallbackKind
	Code       string
	ResultCode string
	Result     *SettlementResult
	Err        error
}

// HandleGatewayCallback проверяет подпись обратного вызова и, если платёж успешен,
// применяет его к бронированию. Неподписанные данные никогда не применяются.
func (s *Service) HandleGatewayCallback(ctx context.Context, provider model.PaymentMethod, params url.Values) CallbackOutcome {
	ctx, span := s.tracer.Start(ctx, "service.gateway_callback",
		trace.WithAttributes(attribute.String("payment.provider", string(provider))))
	defer span.End()

	out := s.handleCallback(ctx, provider, params)
	span.SetAttributes(
		attribute.String("callback.outcome", out.Kind.String()),
		attribute.String("booking.code", out.Code),
	)
	if out.Err != nil {
		span.SetStatus(codes.Error, out.Err.Error())
	}
	return out
}

func (s *Service) handleCallback(ctx context.Context, provider model.PaymentMethod, params url.Values) CallbackOutcome {
	gw, ok := s.gateways.Get(provider)
	if !ok {
		err := &UpstreamGatewayError{Provider: string(provider), Err: fmt.Errorf("gateway is not registered")}
		s.logger.Error("gateway callback error", zap.Error(err))
		return CallbackOutcome{Kind: CallbackError, Err: err}
	}

	cb := gw.VerifyCallback(params)
	if !cb.Valid {
		s.logger.Warn("gateway callback rejected", zap.String("provider", string(provider)))
		return CallbackOutcome{Kind: CallbackInvalidSignature, Err: &SignatureInvalidError{Provider: string(provider)}}
	}

	out := CallbackOutcome{Code: cb.Code, ResultCode: cb.ResultCode}
	if cb.Code == "" {
		out.Kind = CallbackNotFound
		out.Err = &NotFoundError{Entity: "booking"}
		return out
	}

	if _, err := s.repo.GetBookingByCode(ctx, cb.Code); err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			out.Kind = CallbackNotFound
			out.Err = translateRepoError(err, cb.Code)
			return out
		}
		out.Kind = CallbackError
		out.Err = err
		s.logger.Error("gateway callback error", zap.Error(err), zap.String("code", cb.Code))
		return out
	}

	if !cb.Success || cb.Amount <= 0 {
		s.logger.Info("gateway reported failed payment",
			zap.String("provider", string(provider)),
			zap.String("code", cb.Code),
			zap.String("resultCode", cb.ResultCode),
			zap.Int64("amount", cb.Amount),
		)
		out.Kind = CallbackPaymentFailed
		return out
	}

	res, err := s.ApplySettlement(ctx, Settlement{
		BookingCode: cb.Code,
		Provider:    string(provider),
		Ref:         cb.Reference,
		Amount:      cb.Amount,
		At:          s.now(),
	})
	if err != nil {
		out.Err = err
		if errors.Is(err, ErrNotFound) {
			out.Kind = CallbackNotFound
			return out
		}
		out.Kind = CallbackError
		s.logger.Error("apply settlement error", zap.Error(err), zap.String("code", cb.Code))
		return out
	}

	out.Result = res
	out.Kind = CallbackApplied
	if !res.Applied {
		out.Kind = CallbackAlreadyApplied
	}
	return out
}
