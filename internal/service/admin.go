package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/tourbooking-system/internal/model"
	"github.com/mmeshcher/tourbooking-system/internal/repository"
)

// AdminListBookings возвращает страницу бронирований по фильтру.
func (s *Service) AdminListBookings(ctx context.Context, f model.BookingFilter) (*BookingPage, error) {
	f.Page, f.Limit = normalizePage(f.Page, f.Limit)
	f.Search = strings.TrimSpace(f.Search)

	list, total, err := s.repo.ListBookings(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return &BookingPage{Bookings: list, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

// AdminGetBooking возвращает бронирование по идентификатору.
func (s *Service) AdminGetBooking(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	b, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		return nil, translateRepoError(err, id.String())
	}
	return b, nil
}

// AdminGetBookingByCode возвращает бронирование по коду.
func (s *Service) AdminGetBookingByCode(ctx context.Context, code string) (*model.Booking, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	b, err := s.repo.GetBookingByCode(ctx, code)
	if err != nil {
		return nil, translateRepoError(err, code)
	}
	return b, nil
}

// AdminDeleteBooking удаляет бронирование вместе с журналом платежей.
func (s *Service) AdminDeleteBooking(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteBooking(ctx, id); err != nil {
		return translateRepoError(err, id.String())
	}
	s.logger.Info("booking deleted", zap.Stringer("bookingID", id))
	return nil
}

// AdminUpdateStatus меняет статус бронирования. Принимаются названия статусов и коды p/c/x;
// разрешены только переходы из pending.
func (s *Service) AdminUpdateStatus(ctx context.Context, id uuid.UUID, rawStatus string) (*model.Booking, error) {
	status, err := model.ParseBookingStatus(rawStatus)
	if err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}

	var booking *model.Booking
	err = s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		b, err := tx.LockBookingByID(ctx, id)
		if err != nil {
			return translateRepoError(err, id.String())
		}
		if b.Status == status {
			booking = b
			return nil
		}
		if b.Status != model.BookingStatusPending || status == model.BookingStatusPending {
			return &ConflictError{Msg: fmt.Sprintf("cannot change booking status from %s to %s", b.Status, status)}
		}

		if err := tx.UpdateBookingStatus(ctx, b.ID, status); err != nil {
			return fmt.Errorf("update booking status: %w", err)
		}
		b.Status = status
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("booking status changed by admin", zap.String("code", booking.Code), zap.String("status", string(status)))
	return booking, nil
}

// MarkPaidInput описывает ручную отметку об оплате.
type MarkPaidInput struct {
	// Amount равен нулю, если оплачен весь остаток.
	Amount int64
	Ref    string
	Note   string
}

// AdminMarkPaid записывает оплату, принятую вне шлюзов. Платёж проходит через
// ApplySettlement, поэтому повтор с тем же Ref ничего не меняет.
func (s *Service) AdminMarkPaid(ctx context.Context, id uuid.UUID, in MarkPaidInput) (*SettlementResult, error) {
	b, err := s.AdminGetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.PaymentMethod.Offline() {
		return nil, &ConflictError{Msg: fmt.Sprintf("booking %s is paid via %s, manual payments are not allowed", b.Code, b.PaymentMethod)}
	}
	if b.Status == model.BookingStatusCanceled {
		return nil, &ConflictError{Msg: fmt.Sprintf("booking %s is canceled", b.Code)}
	}

	amount := in.Amount
	if amount == 0 {
		amount = b.Remaining()
	}
	if amount <= 0 {
		return nil, validationf("invalid payment amount")
	}

	ref := strings.TrimSpace(in.Ref)
	if ref == "" {
		ref = "ADMIN_" + strconv.FormatInt(s.now().UnixNano(), 10)
	}

	return s.ApplySettlement(ctx, Settlement{
		BookingID: b.ID,
		Provider:  model.ProviderManual,
		Ref:       ref,
		Amount:    amount,
		Note:      in.Note,
	})
}

// BulkMarkPaidResult содержит итог ручной оплаты одного бронирования из пакета.
type BulkMarkPaidResult struct {
	ID      uuid.UUID
	Code    string
	Applied bool
	Err     error
}

// AdminBulkMarkPaid отмечает оплату остатка для каждого бронирования независимо.
func (s *Service) AdminBulkMarkPaid(ctx context.Context, ids []uuid.UUID, note string) ([]BulkMarkPaidResult, error) {
	if len(ids) == 0 {
		return nil, validationf("booking ids are required")
	}

	results := make([]BulkMarkPaidResult, 0, len(ids))
	for _, id := range ids {
		r := BulkMarkPaidResult{ID: id}

		res, err := s.AdminMarkPaid(ctx, id, MarkPaidInput{
			Ref:  fmt.Sprintf("BULK_%d_%s", s.now().UnixNano(), id),
			Note: note,
		})
		if err != nil {
			r.Err = err
			s.logger.Warn("bulk mark paid skipped booking", zap.Stringer("bookingID", id), zap.Error(err))
		} else {
			r.Code = res.Booking.Code
			r.Applied = res.Applied
		}
		results = append(results, r)
	}
	return results, nil
}

// RefundInput описывает возврат средств администратором.
type RefundInput struct {
	// Amount равен нулю, если возвращается вся оплаченная сумма.
	Amount int64 `validate:"gte=0"`
	Ref    string
	Reason string
}

// AdminRefund записывает возврат отрицательной суммой в журнал и уменьшает оплаченную сумму.
// Признак депозита и занятые места не меняются.
func (s *Service) AdminRefund(ctx context.Context, id uuid.UUID, in RefundInput) (*model.Booking, error) {
	if err := validateStruct(&in); err != nil {
		return nil, err
	}

	var booking *model.Booking
	err := s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		b, err := tx.LockBookingByID(ctx, id)
		if err != nil {
			return translateRepoError(err, id.String())
		}
		if b.PaidAmount <= 0 {
			return validationf("nothing to refund")
		}

		amount := in.Amount
		if amount == 0 {
			amount = b.PaidAmount
		}
		if amount > b.PaidAmount {
			return validationf("refund amount %d exceeds paid amount %d", amount, b.PaidAmount)
		}

		ref := strings.TrimSpace(in.Ref)
		if ref == "" {
			ref = "REFUND_" + strconv.FormatInt(s.now().UnixNano(), 10)
		}
		note := strings.TrimSpace(in.Reason)
		if note == "" {
			note = "Admin refund"
		}

		entry := model.PaymentRef{Provider: model.ProviderRefund, Ref: ref, Amount: -amount, Note: note, At: s.now().UTC()}
		inserted, err := tx.AppendPaymentRef(ctx, b.ID, entry)
		if err != nil {
			return fmt.Errorf("append payment ref: %w", err)
		}
		if !inserted {
			return &ConflictError{Msg: fmt.Sprintf("refund %s is already recorded", ref)}
		}
		b.PaymentRefs = append(b.PaymentRefs, entry)

		b.PaidAmount -= amount
		if b.Status == model.BookingStatusConfirmed && b.PaidAmount < b.TotalPrice {
			b.Status = model.BookingStatusPending
		}
		if err := tx.UpdateBookingPayment(ctx, b); err != nil {
			return fmt.Errorf("update booking payment: %w", err)
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("refund recorded",
		zap.String("code", booking.Code),
		zap.Int64("paid", booking.PaidAmount),
		zap.String("status", string(booking.Status)),
	)
	return booking, nil
}

// AdminPaymentStats возвращает сводку оплат по способам оплаты.
func (s *Service) AdminPaymentStats(ctx context.Context) (*model.PaymentStats, error) {
	stats, err := s.repo.PaymentStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("payment stats: %w", err)
	}
	return stats, nil
}

// PaymentHistory содержит журнал платежей бронирования.
type PaymentHistory struct {
	BookingID     uuid.UUID
	Code          string
	PaymentMethod model.PaymentMethod
	TotalPrice    int64
	PaidAmount    int64
	Remaining     int64
	Refs          []model.PaymentRef
}

// AdminPaymentHistory возвращает журнал платежей бронирования.
func (s *Service) AdminPaymentHistory(ctx context.Context, id uuid.UUID) (*PaymentHistory, error) {
	b, err := s.AdminGetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	return &PaymentHistory{
		BookingID:     b.ID,
		Code:          b.Code,
		PaymentMethod: b.PaymentMethod,
		TotalPrice:    b.TotalPrice,
		PaidAmount:    b.PaidAmount,
		Remaining:     b.Remaining(),
		Refs:          b.PaymentRefs,
	}, nil
}

// AdminCapacityConflicts возвращает бронирования, оплаченные после распродажи мест.
func (s *Service) AdminCapacityConflicts(ctx context.Context) ([]model.Booking, error) {
	list, err := s.repo.ListCapacityConflicts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list capacity conflicts: %w", err)
	}
	return list, nil
}
