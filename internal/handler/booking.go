package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateBooking создаёт бронирование текущего пользователя.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		return
	}

	defer r.Body.Close()

	in, err := decodeCreateBooking(r.Body)
	if err != nil {
		if errors.Is(err, errInvalidTourID) {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in.ClientIP = requestIP(r)

	res, err := h.service.CreateBooking(r.Context(), user.ID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, newCreateBookingResponse(res))
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}

// ListMyBookings возвращает страницу бронирований текущего пользователя.
func (h *Handler) ListMyBookings(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		return
	}

	page, limit := pageParams(r)
	res, err := h.service.ListMyBookings(r.Context(), user.ID, page, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newPageResponse(res))
}

// GetMyBooking возвращает бронирование текущего пользователя по коду.
func (h *Handler) GetMyBooking(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		return
	}

	b, err := h.service.GetMyBooking(r.Context(), user.ID, chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newBookingResponse(b))
}

// CancelMyBooking отменяет неоплаченное бронирование текущего пользователя.
func (h *Handler) CancelMyBooking(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		return
	}

	b, err := h.service.CancelMyBooking(r.Context(), user.ID, chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Message string          `json:"message"`
		Booking bookingResponse `json:"booking"`
	}{Message: "Booking canceled", Booking: newBookingResponse(b)})
}

type initiatePaymentRequest struct {
	BankCode string `json:"bankCode"`
}

type initiatePaymentResponse struct {
	Code       string `json:"code"`
	Amount     int64  `json:"amount"`
	PaymentURL string `json:"paymentUrl"`
}

// InitiatePayment выдаёт новую ссылку на оплату бронирования.
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		return
	}

	defer r.Body.Close()

	var req initiatePaymentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.service.InitiatePayment(r.Context(), user.ID, chi.URLParam(r, "code"), requestIP(r), req.BankCode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("payment initiated", zap.String("code", res.Booking.Code), zap.Int64("amount", res.Amount))
	writeJSON(w, http.StatusOK, initiatePaymentResponse{
		Code:       res.Booking.Code,
		Amount:     res.Amount,
		PaymentURL: res.PaymentURL,
	})
}

type availabilityResponse struct {
	TourID        uuid.UUID `json:"tourId"`
	Status        string    `json:"status"`
	Quantity      *int      `json:"quantity"`
	CurrentGuests int       `json:"currentGuests"`
	Remaining     *int      `json:"remaining"`
	MinGuests     int       `json:"minGuests"`
	PriceAdult    int64     `json:"priceAdult"`
	PriceChild    int64     `json:"priceChild"`
	Open          bool      `json:"open"`
}

// TourAvailability возвращает свободные места и цены тура.
func (h *Handler) TourAvailability(w http.ResponseWriter, r *http.Request) {
	tourID, err := uuid.Parse(chi.URLParam(r, "tourID"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, errInvalidTourID.Error())
		return
	}

	a, err := h.service.GetTourAvailability(r.Context(), tourID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, availabilityResponse{
		TourID:        a.TourID,
		Status:        string(a.Status),
		Quantity:      a.Quantity,
		CurrentGuests: a.CurrentGuests,
		Remaining:     a.Remaining,
		MinGuests:     a.MinGuests,
		PriceAdult:    a.PriceAdult,
		PriceChild:    a.PriceChild,
		Open:          a.Open,
	})
}
