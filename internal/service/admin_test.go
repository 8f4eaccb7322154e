package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/tourbooking-system/internal/model"
)

func TestAdminMarkPaid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tour := f.tour(t, intPtr(10), 2, 0)

	gateway := f.book(t, uuid.New(), bookingInput(tour.ID, 1, 0, "vnpay"))
	_, err := f.svc.AdminMarkPaid(ctx, gateway.ID, MarkPaidInput{})
	assert.ErrorIs(t, err, ErrConflict)

	cod := f.book(t, uuid.New(), bookingInput(tour.ID, 2, 0, "cod"))

	res, err := f.svc.AdminMarkPaid(ctx, cod.ID, MarkPaidInput{Ref: "CASH-1", Note: "paid at office"})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.True(t, res.FirstDeposit)
	assert.True(t, res.TourConfirmed)
	assert.Equal(t, cod.TotalPrice, res.Booking.PaidAmount)
	assert.Equal(t, model.BookingStatusConfirmed, res.Booking.Status)

	again, err := f.svc.AdminMarkPaid(ctx, cod.ID, MarkPaidInput{Amount: 100, Ref: "CASH-1"})
	require.NoError(t, err)
	assert.False(t, again.Applied)

	_, err = f.svc.AdminMarkPaid(ctx, cod.ID, MarkPaidInput{})
	assert.ErrorIs(t, err, ErrValidation)

	history, err := f.svc.AdminPaymentHistory(ctx, cod.ID)
	require.NoError(t, err)
	require.Len(t, history.Refs, 1)
	assert.Equal(t, model.ProviderManual, history.Refs[0].Provider)
	assert.Equal(t, "paid at office", history.Refs[0].Note)
	assert.Zero(t, history.Remaining)
}

func TestAdminBulkMarkPaid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tour := f.tour(t, nil, 10, 0)

	a := f.book(t, uuid.New(), bookingInput(tour.ID, 1, 0, "office"))
	b := f.book(t, uuid.New(), bookingInput(tour.ID, 1, 0, "vnpay"))
	missing := uuid.New()

	_, err := f.svc.AdminBulkMarkPaid(ctx, nil, "")
	assert.ErrorIs(t, err, ErrValidation)

	results, err := f.svc.AdminBulkMarkPaid(ctx, []uuid.UUID{a.ID, b.ID, missing}, "bulk")
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Applied)
	assert.Equal(t, a.Code, results[0].Code)
	assert.ErrorIs(t, results[1].Err, ErrConflict)
	assert.ErrorIs(t, results[2].Err, ErrNotFound)
}

func TestAdminRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tour := f.tour(t, intPtr(10), 1, 0)
	b := f.book(t, uuid.New(), bookingInput(tour.ID, 1, 0, "vnpay"))

	_, err := f.svc.AdminRefund(ctx, b.ID, RefundInput{})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.ApplySettlement(ctx, Settlement{BookingCode: b.Code, Provider: "vnpay", Ref: "D", Amount: b.DepositAmount})
	require.NoError(t, err)
	_, err = f.svc.ApplySettlement(ctx, Settlement{BookingCode: b.Code, Provider: "vnpay", Ref: "R", Amount: b.TotalPrice - b.DepositAmount})
	require.NoError(t, err)

	_, err = f.svc.AdminRefund(ctx, b.ID, RefundInput{Amount: b.TotalPrice + 1})
	assert.ErrorIs(t, err, ErrValidation)

	refunded, err := f.svc.AdminRefund(ctx, b.ID, RefundInput{Amount: 50000, Ref: "RF1", Reason: "late pickup"})
	require.NoError(t, err)
	assert.Equal(t, b.TotalPrice-50000, refunded.PaidAmount)
	assert.Equal(t, model.BookingStatusPending, refunded.Status)
	assert.True(t, refunded.DepositPaid)

	_, err = f.svc.AdminRefund(ctx, b.ID, RefundInput{Amount: 1, Ref: "RF1"})
	assert.ErrorIs(t, err, ErrConflict)

	last := refunded.PaymentRefs[len(refunded.PaymentRefs)-1]
	assert.Equal(t, model.ProviderRefund, last.Provider)
	assert.Equal(t, int64(-50000), last.Amount)

	assert.Equal(t, 1, f.storedTour(t, tour.ID).CurrentGuests)
}

func TestAdminUpdateStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tour := f.tour(t, nil, 10, 0)

	b := f.book(t, uuid.New(), bookingInput(tour.ID, 1, 0, "cod"))

	_, err := f.svc.AdminUpdateStatus(ctx, b.ID, "z")
	assert.ErrorIs(t, err, ErrValidation)

	updated, err := f.svc.AdminUpdateStatus(ctx, b.ID, "c")
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusConfirmed, updated.Status)

	_, err = f.svc.AdminUpdateStatus(ctx, b.ID, "x")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.AdminUpdateStatus(ctx, uuid.New(), "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdminQueries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tour := f.tour(t, nil, 10, 0)

	a := f.book(t, uuid.New(), bookingInput(tour.ID, 2, 0, "vnpay"))
	b := f.book(t, uuid.New(), bookingInput(tour.ID, 1, 0, "cod"))

	_, err := f.svc.ApplySettlement(ctx, Settlement{BookingCode: a.Code, Provider: "vnpay", Ref: "X", Amount: a.DepositAmount})
	require.NoError(t, err)

	page, err := f.svc.AdminListBookings(ctx, model.BookingFilter{TourID: &tour.ID, Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, maxPageLimit, page.Limit)
	assert.Equal(t, 1, page.Pages())

	got, err := f.svc.AdminGetBookingByCode(ctx, b.Code)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	stats, err := f.svc.AdminPaymentStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalBookings)
	assert.Equal(t, a.DepositAmount, stats.TotalPaid)
	assert.Equal(t, a.TotalPrice+b.TotalPrice, stats.TotalValue)

	require.NoError(t, f.svc.AdminDeleteBooking(ctx, b.ID))
	_, err = f.svc.AdminGetBooking(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.svc.AdminDeleteBooking(ctx, b.ID), ErrNotFound)
}

func TestTourTimeline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tour := f.tour(t, nil, 1, 0)
	admin := uuid.New()

	_, err := f.svc.AddTourEvent(ctx, tour.ID, admin, TourEventInput{Type: "departed"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.AddTourEvent(ctx, tour.ID, admin, TourEventInput{Type: "party"})
	assert.ErrorIs(t, err, ErrValidation)

	b := f.book(t, uuid.New(), bookingInput(tour.ID, 1, 0, "vnpay"))
	_, err = f.svc.ApplySettlement(ctx, Settlement{BookingCode: b.Code, Provider: "vnpay", Ref: "T", Amount: b.DepositAmount})
	require.NoError(t, err)
	require.Equal(t, model.TourStatusConfirmed, f.storedTour(t, tour.ID).Status)

	departedAt := time.Date(2026, 11, 1, 6, 30, 0, 0, time.UTC)
	_, err = f.svc.AddTourEvent(ctx, tour.ID, admin, TourEventInput{Type: "departed", At: departedAt})
	require.NoError(t, err)

	stored := f.storedTour(t, tour.ID)
	assert.Equal(t, model.TourStatusInProgress, stored.Status)
	require.NotNil(t, stored.DepartedAt)
	assert.True(t, departedAt.Equal(*stored.DepartedAt))

	_, err = f.svc.CreateBooking(ctx, uuid.New(), bookingInput(tour.ID, 1, 0, "vnpay"))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CloseTour(ctx, tour.ID)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.AddTourEvent(ctx, tour.ID, admin, TourEventInput{Type: "checkpoint", Note: "Hai Van pass"})
	require.NoError(t, err)
	_, err = f.svc.AddTourEvent(ctx, tour.ID, admin, TourEventInput{Type: "finished"})
	require.NoError(t, err)
	assert.Equal(t, model.TourStatusCompleted, f.storedTour(t, tour.ID).Status)

	events, err := f.svc.ListTourEvents(ctx, tour.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, model.TourEventCheckpoint, events[1].Type)
	assert.Equal(t, admin, events[1].CreatedBy)
}
