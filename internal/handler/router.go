package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/tourbooking-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса бронирования туров.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/api/tours/{tourID}/availability", h.TourAvailability)

	// Уведомления шлюзов сверх лимита получают код ошибки шлюза, а не 429.
	r.Route("/api/payment", func(r chi.Router) {
		limiter := h.callbackLimiter

		r.With(limiter.Middleware).Get("/vnpay/return", h.VNPayReturn)
		r.With(limiter.RejectWith(http.HandlerFunc(vnpayThrottled))).Get("/vnpay/ipn", h.VNPayIPN)
		r.With(limiter.Middleware).Get("/momo/return", h.MoMoReturn)
		r.With(limiter.RejectWith(http.HandlerFunc(momoThrottled))).Post("/momo/ipn", h.MoMoIPN)
	})

	r.Route("/api/bookings", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/", h.CreateBooking)
		r.Get("/my", h.ListMyBookings)
		r.Get("/my/{code}", h.GetMyBooking)
		r.Post("/{code}/cancel", h.CancelMyBooking)
		r.Post("/{code}/payment", h.InitiatePayment)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(custommiddleware.RequireAdmin)

		r.Route("/bookings", func(r chi.Router) {
			r.Get("/", h.AdminListBookings)
			r.Get("/stats/payments", h.AdminPaymentStats)
			r.Get("/conflicts", h.AdminCapacityConflicts)
			r.Post("/bulk/mark-paid", h.AdminBulkMarkPaid)
			r.Get("/code/{code}", h.AdminGetBookingByCode)

			r.Get("/{id}", h.AdminGetBooking)
			r.Delete("/{id}", h.AdminDeleteBooking)
			r.Patch("/{id}/status", h.AdminUpdateStatus)
			r.Patch("/{id}/payment", h.AdminMarkPaid)
			r.Post("/{id}/refund", h.AdminRefund)
			r.Get("/{id}/payments", h.AdminPaymentHistory)
		})

		r.Route("/tours/{tourID}", func(r chi.Router) {
			r.Get("/timeline", h.ListTourEvents)
			r.Post("/timeline", h.AddTourEvent)
			r.Post("/close", h.CloseTour)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})

	return r
}
