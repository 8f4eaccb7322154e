package service

import (
	"context"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/tourbooking-system/internal/model"
	"github.com/mmeshcher/tourbooking-system/internal/payment"
)

func TestHandleGatewayCallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tour := f.tour(t, intPtr(10), 5, 4)
	b := f.book(t, uuid.New(), bookingInput(tour.ID, 2, 0, "vnpay"))

	params := url.Values{"vnp_TxnRef": {b.Code + "1792119845"}}

	t.Run("invalid signature", func(t *testing.T) {
		f.vnpay.callback = payment.Callback{Valid: false}

		out := f.svc.HandleGatewayCallback(ctx, model.PaymentMethodVNPay, params)
		assert.Equal(t, CallbackInvalidSignature, out.Kind)
		assert.ErrorIs(t, out.Err, ErrSignatureInvalid)
	})

	t.Run("unknown booking", func(t *testing.T) {
		f.vnpay.callback = payment.Callback{Valid: true, Code: "BKGZZZZZZ", Amount: 400000, Reference: "T0", ResultCode: "00", Success: true}

		out := f.svc.HandleGatewayCallback(ctx, model.PaymentMethodVNPay, params)
		assert.Equal(t, CallbackNotFound, out.Kind)
	})

	t.Run("failed payment is not applied", func(t *testing.T) {
		f.vnpay.callback = payment.Callback{Valid: true, Code: b.Code, Amount: 400000, Reference: "T1", ResultCode: "24"}

		out := f.svc.HandleGatewayCallback(ctx, model.PaymentMethodVNPay, params)
		assert.Equal(t, CallbackPaymentFailed, out.Kind)
		assert.Equal(t, "24", out.ResultCode)

		stored, err := f.repo.GetBookingByCode(ctx, b.Code)
		require.NoError(t, err)
		assert.Zero(t, stored.PaidAmount)
	})

	t.Run("zero amount is treated as failure", func(t *testing.T) {
		f.vnpay.callback = payment.Callback{Valid: true, Code: b.Code, Amount: 0, Reference: "T2", ResultCode: "00", Success: true}

		out := f.svc.HandleGatewayCallback(ctx, model.PaymentMethodVNPay, params)
		assert.Equal(t, CallbackPaymentFailed, out.Kind)
	})

	t.Run("success then duplicate", func(t *testing.T) {
		f.vnpay.callback = payment.Callback{Valid: true, Code: b.Code, Amount: 400000, Reference: "TXN123", ResultCode: "00", Success: true}

		out := f.svc.HandleGatewayCallback(ctx, model.PaymentMethodVNPay, params)
		require.Equal(t, CallbackApplied, out.Kind)
		assert.Equal(t, b.Code, out.Code)
		assert.True(t, out.Result.TourConfirmed)

		out = f.svc.HandleGatewayCallback(ctx, model.PaymentMethodVNPay, params)
		assert.Equal(t, CallbackAlreadyApplied, out.Kind)

		stored, err := f.repo.GetBookingByCode(ctx, b.Code)
		require.NoError(t, err)
		assert.Equal(t, int64(400000), stored.PaidAmount)
		assert.Equal(t, int32(1), f.notifier.tourConfirmed.Load())
	})

	t.Run("unregistered provider", func(t *testing.T) {
		out := f.svc.HandleGatewayCallback(ctx, model.PaymentMethodMoMo, params)
		assert.Equal(t, CallbackError, out.Kind)
		assert.ErrorIs(t, out.Err, ErrUpstreamGateway)
	})
}

func TestCallbackKindString(t *testing.T) {
	assert.Equal(t, "applied", CallbackApplied.String())
	assert.Equal(t, "already_applied", CallbackAlreadyApplied.String())
	assert.Equal(t, "error", CallbackError.String())
}
