// Package handler содержит HTTP-обработчики API сервиса бронирования туров.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/tourbooking-system/internal/middleware"
	"github.com/mmeshcher/tourbooking-system/internal/model"
	"github.com/mmeshcher/tourbooking-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateBooking(ctx context.Context, userID uuid.UUID, in service.CreateBookingInput) (*service.CreateBookingResult, error)
	ListMyBookings(ctx context.Context, userID uuid.UUID, page, limit int) (*service.BookingPage, error)
	GetMyBooking(ctx context.Context, userID uuid.UUID, code string) (*model.Booking, error)
	CancelMyBooking(ctx context.Context, userID uuid.UUID, code string) (*model.Booking, error)
	InitiatePayment(ctx context.Context, userID uuid.UUID, code, clientIP, bankCode string) (*service.PaymentInitResult, error)
	GetTourAvailability(ctx context.Context, tourID uuid.UUID) (*service.Availability, error)

	HandleGatewayCallback(ctx context.Context, provider model.PaymentMethod, params url.Values) service.CallbackOutcome

	AdminListBookings(ctx context.Context, f model.BookingFilter) (*service.BookingPage, error)
	AdminGetBooking(ctx context.Context, id uuid.UUID) (*model.Booking, error)
	AdminGetBookingByCode(ctx context.Context, code string) (*model.Booking, error)
	AdminDeleteBooking(ctx context.Context, id uuid.UUID) error
	AdminUpdateStatus(ctx context.Context, id uuid.UUID, rawStatus string) (*model.Booking, error)
	AdminMarkPaid(ctx context.Context, id uuid.UUID, in service.MarkPaidInput) (*service.SettlementResult, error)
	AdminBulkMarkPaid(ctx context.Context, ids []uuid.UUID, note string) ([]service.BulkMarkPaidResult, error)
	AdminRefund(ctx context.Context, id uuid.UUID, in service.RefundInput) (*model.Booking, error)
	AdminPaymentStats(ctx context.Context) (*model.PaymentStats, error)
	AdminPaymentHistory(ctx context.Context, id uuid.UUID) (*service.PaymentHistory, error)
	AdminCapacityConflicts(ctx context.Context) ([]model.Booking, error)

	AddTourEvent(ctx context.Context, tourID, adminID uuid.UUID, in service.TourEventInput) (*model.TourEvent, error)
	ListTourEvents(ctx context.Context, tourID uuid.UUID) ([]model.TourEvent, error)
	CloseTour(ctx context.Context, tourID uuid.UUID) (*model.Tour, error)
}

// Options задаёт параметры HTTP-слоя.
type Options struct {
	// FrontendURL задаёт адрес клиентского приложения для перенаправлений после оплаты.
	FrontendURL        string
	CallbackRatePerSec float64
	CallbackBurst      int
}

// Handler реализует HTTP-обработчики API сервиса бронирования туров.
type Handler struct {
	service         Service
	logger          *zap.Logger
	authMiddleware  *middleware.AuthMiddleware
	callbackLimiter *middleware.IPRateLimiter
	frontendURL     string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, opts Options) *Handler {
	if opts.CallbackRatePerSec <= 0 {
		opts.CallbackRatePerSec = 20
	}
	if opts.CallbackBurst <= 0 {
		opts.CallbackBurst = 40
	}
	return &Handler{
		service:         s,
		logger:          logger,
		authMiddleware:  auth,
		callbackLimiter: middleware.NewIPRateLimiter(opts.CallbackRatePerSec, opts.CallbackBurst, logger),
		frontendURL:     opts.FrontendURL,
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

type capacityResponse struct {
	Message   string `json:"message"`
	Remaining int    `json:"remaining"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Message: msg})
}

// writeError переводит ошибки сервиса в HTTP-ответ.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var capErr *service.CapacityExceededError
	switch {
	case errors.As(err, &capErr):
		writeJSON(w, http.StatusConflict, capacityResponse{Message: capErr.Error(), Remaining: capErr.Remaining})
	case errors.Is(err, service.ErrValidation):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrConflict):
		writeMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrSignatureInvalid):
		writeMessage(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrUpstreamGateway):
		h.logger.Warn("upstream gateway error", zap.Error(err), zap.String("uri", r.RequestURI))
		writeMessage(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("request error", zap.Error(err), zap.String("method", r.Method), zap.String("uri", r.RequestURI))
		writeMessage(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

func currentUser(r *http.Request) (middleware.User, bool) {
	return middleware.UserFromContext(r.Context())
}

func requestIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
