package notify

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mmeshcher/tourbooking-system/internal/model"
	"github.com/mmeshcher/tourbooking-system/internal/payment"
	"github.com/mmeshcher/tourbooking-system/internal/repository"
	"github.com/mmeshcher/tourbooking-system/internal/service"
)

type MockMailer struct {
	mock.Mock
	sent atomic.Int32
}

func (m *MockMailer) SendMail(ctx context.Context, to, subject, htmlBody string) error {
	defer m.sent.Add(1)
	args := m.Called(ctx, to, subject, htmlBody)
	return args.Error(0)
}

type MockTourDirectory struct {
	mock.Mock
}

func (m *MockTourDirectory) GetTour(ctx context.Context, id uuid.UUID) (*model.Tour, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Tour), args.Error(1)
}

func (m *MockTourDirectory) ListDepositedBookings(ctx context.Context, tourID uuid.UUID) ([]model.Booking, error) {
	args := m.Called(ctx, tourID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Booking), args.Error(1)
}

func testBooking(code, email string) model.Booking {
	return model.Booking{
		Code:          code,
		FullName:      "Tran Thi B",
		Email:         email,
		TotalPrice:    2600000,
		DepositAmount: 520000,
		PaidAmount:    520000,
		DepositPaid:   true,
	}
}

// startDispatcher запускает Run и возвращает функцию остановки, дожидающуюся завершения.
func startDispatcher(t *testing.T, d *Dispatcher) func() {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("dispatcher did not stop")
		}
	}
}

func TestDispatcher_DepositReceived(t *testing.T) {
	mailer := &MockMailer{}
	mailer.On("SendMail", mock.Anything, "b@example.com", "Đã nhận tiền cọc - BKGAB12CD",
		mock.MatchedBy(func(body string) bool {
			return strings.Contains(body, "BKGAB12CD") && strings.Contains(body, "520.000")
		})).Return(nil).Once()

	d := NewDispatcher(mailer, &MockTourDirectory{}, zap.NewNop(), Options{QueueSize: 4})
	stop := startDispatcher(t, d)

	d.DepositReceived(testBooking("BKGAB12CD", "b@example.com"))

	assert.Eventually(t, func() bool { return mailer.sent.Load() == 1 }, time.Second, 10*time.Millisecond)
	stop()
	mailer.AssertExpectations(t)
}

func TestDispatcher_FullyPaid(t *testing.T) {
	mailer := &MockMailer{}
	mailer.On("SendMail", mock.Anything, "b@example.com", "Xác nhận thanh toán đủ - BKGAB12CD", mock.Anything).
		Return(nil).Once()

	d := NewDispatcher(mailer, &MockTourDirectory{}, zap.NewNop(), Options{QueueSize: 4})
	stop := startDispatcher(t, d)

	b := testBooking("BKGAB12CD", "b@example.com")
	b.PaidAmount = b.TotalPrice
	d.FullyPaid(b)

	assert.Eventually(t, func() bool { return mailer.sent.Load() == 1 }, time.Second, 10*time.Millisecond)
	stop()
	mailer.AssertExpectations(t)
}

func TestDispatcher_TourConfirmedFanOut(t *testing.T) {
	tourID := uuid.New()
	tours := &MockTourDirectory{}
	tours.On("GetTour", mock.Anything, tourID).Return(&model.Tour{ID: tourID, Title: "Sapa 2N1D"}, nil)
	tours.On("ListDepositedBookings", mock.Anything, tourID).Return([]model.Booking{
		testBooking("BKG000001", "one@example.com"),
		testBooking("BKG000002", "two@example.com"),
	}, nil)

	mailer := &MockMailer{}
	subject := "Tour đã được xác nhận - Sapa 2N1D"
	mailer.On("SendMail", mock.Anything, "one@example.com", subject, mock.Anything).Return(nil).Once()
	mailer.On("SendMail", mock.Anything, "two@example.com", subject, mock.Anything).Return(nil).Once()

	d := NewDispatcher(mailer, tours, zap.NewNop(), Options{QueueSize: 4})
	stop := startDispatcher(t, d)

	d.TourConfirmed(tourID)

	assert.Eventually(t, func() bool { return mailer.sent.Load() == 2 }, time.Second, 10*time.Millisecond)
	stop()
	mailer.AssertExpectations(t)
	tours.AssertExpectations(t)
}

func TestDispatcher_TourConfirmedSkipsSeatlessBookings(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc := service.NewService(repo, payment.NewRegistry(), nil, zap.NewNop(), service.Options{DepositRate: 0.2})

	quantity := 3
	tour := &model.Tour{Title: "Hue 1N", Quantity: &quantity, MinGuests: 3, PriceAdult: 1000000}
	require.NoError(t, svc.CreateTour(ctx, tour))

	book := func(email string, adults int) *model.Booking {
		res, err := svc.CreateBooking(ctx, uuid.New(), service.CreateBookingInput{
			TourID:        tour.ID,
			NumAdults:     adults,
			Contact:       service.Contact{FullName: "Guest", Email: email, PhoneNumber: "0901234567"},
			PaymentMethod: "office",
		})
		require.NoError(t, err)
		return res.Booking
	}
	settle := func(b *model.Booking, ref string) *service.SettlementResult {
		res, err := svc.ApplySettlement(ctx, service.Settlement{
			BookingCode: b.Code, Provider: "office", Ref: ref, Amount: b.DepositAmount,
		})
		require.NoError(t, err)
		return res
	}

	a := book("a@example.com", 2)
	b := book("b@example.com", 2)
	c := book("c@example.com", 1)

	settle(a, "CASH-A")
	require.True(t, settle(b, "CASH-B").CapacityConflict)
	require.True(t, settle(c, "CASH-C").TourConfirmed)

	mailer := &MockMailer{}
	subject := "Tour đã được xác nhận - Hue 1N"
	mailer.On("SendMail", mock.Anything, "a@example.com", subject, mock.Anything).Return(nil).Once()
	mailer.On("SendMail", mock.Anything, "c@example.com", subject, mock.Anything).Return(nil).Once()

	d := NewDispatcher(mailer, repo, zap.NewNop(), Options{QueueSize: 4})
	d.process(ctx, job{kind: jobTourConfirmed, tourID: tour.ID})

	mailer.AssertExpectations(t)
	mailer.AssertNotCalled(t, "SendMail", mock.Anything, "b@example.com", mock.Anything, mock.Anything)
}

func TestDispatcher_FailuresAreLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)

	mailer := &MockMailer{}
	mailer.On("SendMail", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("smtp: connection refused"))

	tourID := uuid.New()
	tours := &MockTourDirectory{}
	tours.On("GetTour", mock.Anything, tourID).Return(nil, errors.New("tour not found"))

	d := NewDispatcher(mailer, tours, zap.New(core), Options{QueueSize: 4})
	stop := startDispatcher(t, d)

	d.DepositReceived(testBooking("BKGAB12CD", "b@example.com"))
	d.TourConfirmed(tourID)

	assert.Eventually(t, func() bool {
		return logs.FilterMessage("notification error").Len() == 2
	}, time.Second, 10*time.Millisecond)
	stop()
}

func TestDispatcher_FullQueueDropsJob(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	d := NewDispatcher(&MockMailer{}, &MockTourDirectory{}, zap.New(core), Options{QueueSize: 1})

	d.DepositReceived(testBooking("BKG000001", "one@example.com"))
	d.DepositReceived(testBooking("BKG000002", "two@example.com"))

	dropped := logs.FilterMessage("notification queue is full, dropping job").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, "BKG000002", dropped[0].ContextMap()["code"])
}

func TestDispatcher_DrainsOnShutdown(t *testing.T) {
	mailer := &MockMailer{}
	mailer.On("SendMail", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	d := NewDispatcher(mailer, &MockTourDirectory{}, zap.NewNop(), Options{QueueSize: 8})
	for i := 0; i < 3; i++ {
		d.FullyPaid(testBooking("BKG00000"+string(rune('1'+i)), "x@example.com"))
	}

	d.drainQueue()

	assert.Equal(t, int32(3), mailer.sent.Load())
}

func TestFormatVND(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1.000"},
		{2600000, "2.600.000"},
		{-15000, "-15.000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatVND(tt.in))
	}
}
