package handler

import (
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/mmeshcher/tourbooking-system/internal/model"
	"github.com/mmeshcher/tourbooking-system/internal/payment"
	"github.com/mmeshcher/tourbooking-system/internal/service"
)

// redirectTarget возвращает адрес клиентского приложения для результата оплаты.
func (h *Handler) redirectTarget(out service.CallbackOutcome) string {
	failed := func(reason string) string {
		return h.frontendURL + "/payment?status=failed&reason=" + url.QueryEscape(reason)
	}

	switch out.Kind {
	case service.CallbackApplied, service.CallbackAlreadyApplied:
		return h.frontendURL + "/user/bookings?status=success&code=" + url.QueryEscape(out.Code)
	case service.CallbackInvalidSignature:
		return failed("invalid_sig")
	case service.CallbackNotFound:
		return failed("notfound")
	case service.CallbackPaymentFailed:
		return failed(out.ResultCode)
	}
	return failed("server")
}

func (h *Handler) paymentReturn(w http.ResponseWriter, r *http.Request, provider model.PaymentMethod, params url.Values) {
	out := h.service.HandleGatewayCallback(r.Context(), provider, params)
	h.logger.Info("payment return",
		zap.String("provider", string(provider)),
		zap.String("outcome", out.Kind.String()),
		zap.String("code", out.Code),
	)
	http.Redirect(w, r, h.redirectTarget(out), http.StatusFound)
}

// VNPayReturn обрабатывает возврат пользователя со страницы оплаты VNPay.
func (h *Handler) VNPayReturn(w http.ResponseWriter, r *http.Request) {
	h.paymentReturn(w, r, model.PaymentMethodVNPay, r.URL.Query())
}

// MoMoReturn обрабатывает возврат пользователя со страницы оплаты MoMo.
func (h *Handler) MoMoReturn(w http.ResponseWriter, r *http.Request) {
	h.paymentReturn(w, r, model.PaymentMethodMoMo, r.URL.Query())
}

type vnpayIPNResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

func vnpayAck(out service.CallbackOutcome) vnpayIPNResponse {
	switch out.Kind {
	case service.CallbackInvalidSignature:
		return vnpayIPNResponse{RspCode: "97", Message: "Invalid signature"}
	case service.CallbackNotFound:
		return vnpayIPNResponse{RspCode: "01", Message: "Order not found"}
	case service.CallbackApplied:
		return vnpayIPNResponse{RspCode: "00", Message: "Confirm success"}
	case service.CallbackAlreadyApplied:
		return vnpayIPNResponse{RspCode: "00", Message: "Already confirmed"}
	case service.CallbackPaymentFailed:
		return vnpayIPNResponse{RspCode: out.ResultCode, Message: "Payment failed"}
	}
	return vnpayIPNResponse{RspCode: "99", Message: "Unknown error"}
}

// vnpayThrottled отвечает VNPay кодом 99, чтобы шлюз повторил уведомление позже.
func vnpayThrottled(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, vnpayAck(service.CallbackOutcome{Kind: service.CallbackError}))
}

// VNPayIPN обрабатывает серверное уведомление VNPay. Ответ всегда 200 с кодом VNPay.
func (h *Handler) VNPayIPN(w http.ResponseWriter, r *http.Request) {
	out := h.service.HandleGatewayCallback(r.Context(), model.PaymentMethodVNPay, r.URL.Query())
	ack := vnpayAck(out)
	h.logger.Info("vnpay ipn",
		zap.String("outcome", out.Kind.String()),
		zap.String("code", out.Code),
		zap.String("rspCode", ack.RspCode),
	)
	writeJSON(w, http.StatusOK, ack)
}

type momoIPNResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
}

func momoAck(out service.CallbackOutcome) momoIPNResponse {
	switch out.Kind {
	case service.CallbackInvalidSignature:
		return momoIPNResponse{ResultCode: 97, Message: "Invalid signature"}
	case service.CallbackNotFound:
		return momoIPNResponse{ResultCode: 1, Message: "Order not found"}
	case service.CallbackApplied:
		return momoIPNResponse{ResultCode: 0, Message: "Confirm success"}
	case service.CallbackAlreadyApplied:
		return momoIPNResponse{ResultCode: 0, Message: "Already confirmed"}
	case service.CallbackPaymentFailed:
		return momoIPNResponse{ResultCode: 0, Message: "Payment failed"}
	}
	return momoIPNResponse{ResultCode: 99, Message: "Unknown error"}
}

func momoThrottled(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, momoAck(service.CallbackOutcome{Kind: service.CallbackError}))
}

// MoMoIPN обрабатывает серверное уведомление MoMo с JSON-телом.
func (h *Handler) MoMoIPN(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	params, err := payment.DecodeMoMoNotification(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("momo ipn decode error", zap.Error(err))
		writeJSON(w, http.StatusOK, momoIPNResponse{ResultCode: 97, Message: "Invalid payload"})
		return
	}

	out := h.service.HandleGatewayCallback(r.Context(), model.PaymentMethodMoMo, params)
	ack := momoAck(out)
	h.logger.Info("momo ipn",
		zap.String("outcome", out.Kind.String()),
		zap.String("code", out.Code),
		zap.Int("resultCode", ack.ResultCode),
	)
	writeJSON(w, http.StatusOK, ack)
}
