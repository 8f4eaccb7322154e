package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/mmeshcher/tourbooking-system/internal/model"
	"github.com/mmeshcher/tourbooking-system/internal/payment"
	"github.com/mmeshcher/tourbooking-system/internal/repository"
)

func newRapidFixture() *fixture {
	f := &fixture{
		repo:     repository.NewMemoryRepository(),
		notifier: &countingNotifier{},
		vnpay:    &stubGateway{provider: model.PaymentMethodVNPay, url: "https://pay.example/vnpay"},
	}
	f.svc = NewService(f.repo, payment.NewRegistry(f.vnpay), f.notifier, zap.NewNop(), Options{DepositRate: 0.2})
	return f
}

// Повторная доставка одних и тех же ссылок не должна менять оплаченную сумму.
func TestSettlementIdempotencyProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		f := newRapidFixture()

		tour := &model.Tour{Title: "Ha Long 2N1D", PriceAdult: 1000000, MinGuests: 2}
		require.NoError(rt, f.svc.CreateTour(ctx, tour))
		res, err := f.svc.CreateBooking(ctx, uuid.New(), bookingInput(tour.ID, 1, 0, "vnpay"))
		require.NoError(rt, err)
		code := res.Booking.Code

		refs := rapid.SliceOfN(rapid.SampledFrom([]string{"A", "B", "C", "D", "E"}), 1, 20).Draw(rt, "refs")
		amountOf := make(map[string]int64)
		var want int64
		for _, ref := range refs {
			amount, seen := amountOf[ref]
			if !seen {
				amount = rapid.Int64Range(1, 500000).Draw(rt, "amount")
				amountOf[ref] = amount
				want += amount
			}

			r, err := f.svc.ApplySettlement(ctx, Settlement{BookingCode: code, Provider: "vnpay", Ref: ref, Amount: amount})
			require.NoError(rt, err)
			assert.Equal(rt, !seen, r.Applied)
		}

		stored, err := f.repo.GetBookingByCode(ctx, code)
		require.NoError(rt, err)
		assert.Equal(rt, want, stored.PaidAmount)
		assert.Len(rt, stored.PaymentRefs, len(amountOf))
		assert.True(rt, stored.DepositPaid)
		assert.Equal(rt, int32(1), f.notifier.deposits.Load())
		seated, err := f.repo.GetTour(ctx, tour.ID)
		require.NoError(rt, err)
		assert.Equal(rt, 1, seated.CurrentGuests)
	})
}

// Счётчик гостей никогда не превышает вместимость и равен сумме гостей
// бронирований, депозит которых занял места.
func TestCapacityLedgerProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		f := newRapidFixture()

		quantity := rapid.IntRange(1, 12).Draw(rt, "quantity")
		minGuests := rapid.IntRange(1, quantity).Draw(rt, "minGuests")
		tour := &model.Tour{Title: "Phu Quoc 3N2D", PriceAdult: 900000, Quantity: &quantity, MinGuests: minGuests}
		require.NoError(rt, f.svc.CreateTour(ctx, tour))

		n := rapid.IntRange(1, 10).Draw(rt, "bookings")
		var codes []string
		for i := 0; i < n; i++ {
			adults := rapid.IntRange(1, 4).Draw(rt, "adults")
			res, err := f.svc.CreateBooking(ctx, uuid.New(), bookingInput(tour.ID, adults, 0, "vnpay"))
			var capErr *CapacityExceededError
			if errors.As(err, &capErr) {
				continue
			}
			require.NoError(rt, err)
			codes = append(codes, res.Booking.Code)
		}

		order := rapid.Permutation(codes).Draw(rt, "order")
		for i, code := range order {
			_, err := f.svc.ApplySettlement(ctx, Settlement{BookingCode: code, Provider: "vnpay", Ref: fmt.Sprintf("P%d", i), Amount: 1})
			require.NoError(rt, err)
		}

		stored, err := f.repo.GetTour(ctx, tour.ID)
		require.NoError(rt, err)
		require.LessOrEqual(rt, stored.CurrentGuests, quantity)

		var seated, conflicted int
		for _, code := range codes {
			b, err := f.repo.GetBookingByCode(ctx, code)
			require.NoError(rt, err)
			require.True(rt, b.DepositPaid)
			if b.CapacityConflict {
				conflicted++
				continue
			}
			seated += b.Guests()
		}
		assert.Equal(rt, seated, stored.CurrentGuests)

		conflicts, err := f.svc.AdminCapacityConflicts(ctx)
		require.NoError(rt, err)
		assert.Len(rt, conflicts, conflicted)

		assert.Equal(rt, stored.CurrentGuests >= minGuests, stored.Status == model.TourStatusConfirmed)
		assert.LessOrEqual(rt, f.notifier.tourConfirmed.Load(), int32(1))
	})
}
