package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mmeshcher/tourbooking-system/internal/model"
	"github.com/mmeshcher/tourbooking-system/internal/service"
)

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// AdminListBookings возвращает страницу бронирований по фильтрам status, tourId и q.
func (h *Handler) AdminListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit := pageParams(r)
	f := model.BookingFilter{Search: q.Get("q"), Page: page, Limit: limit}

	if raw := q.Get("status"); raw != "" {
		status, err := model.ParseBookingStatus(raw)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Status = &status
	}
	if raw := q.Get("tourId"); raw != "" {
		tourID, err := uuid.Parse(raw)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, errInvalidTourID.Error())
			return
		}
		f.TourID = &tourID
	}

	res, err := h.service.AdminListBookings(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPageResponse(res))
}

// AdminGetBooking возвращает бронирование по идентификатору.
func (h *Handler) AdminGetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	b, err := h.service.AdminGetBooking(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(b))
}

// AdminGetBookingByCode возвращает бронирование по коду.
func (h *Handler) AdminGetBookingByCode(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.AdminGetBookingByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(b))
}

// AdminDeleteBooking удаляет бронирование.
func (h *Handler) AdminDeleteBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.AdminDeleteBooking(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// AdminUpdateStatus меняет статус бронирования.
func (h *Handler) AdminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	b, err := h.service.AdminUpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(b))
}

type markPaidRequest struct {
	Amount int64  `json:"amount"`
	Ref    string `json:"ref"`
	Note   string `json:"note"`
}

// AdminMarkPaid записывает оплату, принятую вне платёжных шлюзов.
func (h *Handler) AdminMarkPaid(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req markPaidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.service.AdminMarkPaid(r.Context(), id, service.MarkPaidInput{Amount: req.Amount, Ref: req.Ref, Note: req.Note})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSettlementResponse(res))
}

type bulkMarkPaidRequest struct {
	IDs  []uuid.UUID `json:"ids"`
	Note string      `json:"note"`
}

type bulkMarkPaidItem struct {
	ID      uuid.UUID `json:"id"`
	Code    string    `json:"code,omitempty"`
	Applied bool      `json:"applied"`
	Error   string    `json:"error,omitempty"`
}

// AdminBulkMarkPaid отмечает оплату нескольких бронирований.
func (h *Handler) AdminBulkMarkPaid(w http.ResponseWriter, r *http.Request) {
	var req bulkMarkPaidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	results, err := h.service.AdminBulkMarkPaid(r.Context(), req.IDs, req.Note)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]bulkMarkPaidItem, 0, len(results))
	for _, res := range results {
		item := bulkMarkPaidItem{ID: res.ID, Code: res.Code, Applied: res.Applied}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, struct {
		Results []bulkMarkPaidItem `json:"results"`
	}{Results: items})
}

type refundRequest struct {
	Amount int64  `json:"amount"`
	Ref    string `json:"ref"`
	Reason string `json:"reason"`
}

// AdminRefund записывает возврат средств.
func (h *Handler) AdminRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req refundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	b, err := h.service.AdminRefund(r.Context(), id, service.RefundInput{Amount: req.Amount, Ref: req.Ref, Reason: req.Reason})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(b))
}

// AdminPaymentStats возвращает сводку оплат.
func (h *Handler) AdminPaymentStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.AdminPaymentStats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type paymentHistoryResponse struct {
	BookingID     uuid.UUID            `json:"bookingId"`
	Code          string               `json:"code"`
	PaymentMethod model.PaymentMethod  `json:"paymentMethod"`
	TotalPrice    int64                `json:"totalPrice"`
	PaidAmount    int64                `json:"paidAmount"`
	Remaining     int64                `json:"remaining"`
	Payments      []paymentRefResponse `json:"payments"`
}

// AdminPaymentHistory возвращает журнал платежей бронирования.
func (h *Handler) AdminPaymentHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	hist, err := h.service.AdminPaymentHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	payments := newPaymentRefs(hist.Refs)
	if payments == nil {
		payments = []paymentRefResponse{}
	}
	writeJSON(w, http.StatusOK, paymentHistoryResponse{
		BookingID:     hist.BookingID,
		Code:          hist.Code,
		PaymentMethod: hist.PaymentMethod,
		TotalPrice:    hist.TotalPrice,
		PaidAmount:    hist.PaidAmount,
		Remaining:     hist.Remaining,
		Payments:      payments,
	})
}

// AdminCapacityConflicts возвращает бронирования, оплаченные после распродажи мест.
func (h *Handler) AdminCapacityConflicts(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.AdminCapacityConflicts(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookingList(list))
}

type tourEventRequest struct {
	Type string `json:"type"`
	Note string `json:"note"`
	At   string `json:"at"`
}

type tourEventResponse struct {
	ID        int64     `json:"id"`
	TourID    uuid.UUID `json:"tourId"`
	Type      string    `json:"type"`
	Note      string    `json:"note,omitempty"`
	At        time.Time `json:"at"`
	CreatedBy uuid.UUID `json:"createdBy"`
}

func newTourEventResponse(e *model.TourEvent) tourEventResponse {
	return tourEventResponse{ID: e.ID, TourID: e.TourID, Type: string(e.Type), Note: e.Note, At: e.At, CreatedBy: e.CreatedBy}
}

// AddTourEvent добавляет событие в хронологию тура.
func (h *Handler) AddTourEvent(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		return
	}
	tourID, ok := uuidParam(w, r, "tourID")
	if !ok {
		return
	}

	var req tourEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in := service.TourEventInput{Type: req.Type, Note: req.Note}
	if at := strings.TrimSpace(req.At); at != "" {
		parsed, err := time.Parse(time.RFC3339, at)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid event time, RFC3339 expected")
			return
		}
		in.At = parsed
	}

	event, err := h.service.AddTourEvent(r.Context(), tourID, user.ID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTourEventResponse(event))
}

// ListTourEvents возвращает хронологию тура.
func (h *Handler) ListTourEvents(w http.ResponseWriter, r *http.Request) {
	tourID, ok := uuidParam(w, r, "tourID")
	if !ok {
		return
	}
	events, err := h.service.ListTourEvents(r.Context(), tourID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]tourEventResponse, 0, len(events))
	for i := range events {
		resp = append(resp, newTourEventResponse(&events[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CloseTour закрывает продажи тура.
func (h *Handler) CloseTour(w http.ResponseWriter, r *http.Request) {
	tourID, ok := uuidParam(w, r, "tourID")
	if !ok {
		return
	}
	tour, err := h.service.CloseTour(r.Context(), tourID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ID     uuid.UUID `json:"id"`
		Status string    `json:"status"`
	}{ID: tour.ID, Status: string(tour.Status)})
}
