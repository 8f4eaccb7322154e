package payment

import (
	"context"
	"crypto/sha512"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/tourbooking-system/internal/model"
	"github.com/mmeshcher/tourbooking-system/internal/validation"
)

const (
	vnpVersion         = "2.1.0"
	vnpCommand         = "pay"
	vnpCurrency        = "VND"
	vnpLocale          = "vn"
	vnpOrderType       = "other"
	vnpDateLayout      = "20060102150405"
	vnpPaymentTTL      = 15 * time.Minute
	vnpMinAmount       = 10000
	vnpMaxTxnRefLength = 100

	vnpSecureHash     = "vnp_SecureHash"
	vnpSecureHashType = "vnp_SecureHashType"

	// VNPaySuccessCode обозначает код успешной оплаты в vnp_ResponseCode и vnp_TransactionStatus.
	VNPaySuccessCode = "00"
)

// vnpZone задаёт часовой пояс, в котором VNPay ожидает vnp_CreateDate.
var vnpZone = time.FixedZone("ICT", 7*60*60)

// VNPayOptions содержит параметры терминала VNPay.
type VNPayOptions struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
}

// VNPay реализует Gateway для VNPay: ссылка с подписью HMAC-SHA512 и проверка return/IPN.
type VNPay struct {
	opts   VNPayOptions
	logger *zap.Logger
	now    func() time.Time
}

// NewVNPay создаёт адаптер VNPay.
func NewVNPay(opts VNPayOptions, logger *zap.Logger) *VNPay {
	return &VNPay{
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Provider возвращает способ оплаты, обслуживаемый адаптером.
func (v *VNPay) Provider() model.PaymentMethod {
	return model.PaymentMethodVNPay
}

// BuildRedirectURL строит подписанную ссылку на страницу оплаты VNPay.
// Сумма передаётся в донгах и умножается на 100, как требует VNPay.
func (v *VNPay) BuildRedirectURL(_ context.Context, req RedirectRequest) (string, error) {
	if v.opts.TmnCode == "" || v.opts.HashSecret == "" || v.opts.PayURL == "" {
		return "", ErrNotConfigured
	}
	if req.Amount <= 0 {
		return "", fmt.Errorf("vnpay: amount must be positive, got %d", req.Amount)
	}
	if req.Amount < vnpMinAmount {
		v.logger.Warn("vnpay amount below gateway minimum",
			zap.String("code", req.BookingCode),
			zap.Int64("amount", req.Amount),
		)
	}

	now := v.now().In(vnpZone)

	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = v.opts.ReturnURL
	}

	orderInfo := sanitizeOrderInfo(req.OrderInfo)
	if orderInfo == "" {
		orderInfo = "Thanh toan dat tour " + req.BookingCode
	}

	params := url.Values{}
	params.Set("vnp_Version", vnpVersion)
	params.Set("vnp_Command", vnpCommand)
	params.Set("vnp_TmnCode", v.opts.TmnCode)
	params.Set("vnp_Amount", strconv.FormatInt(req.Amount*100, 10))
	params.Set("vnp_CurrCode", vnpCurrency)
	params.Set("vnp_TxnRef", txnRef(req.BookingCode, now))
	params.Set("vnp_OrderInfo", orderInfo)
	params.Set("vnp_OrderType", vnpOrderType)
	params.Set("vnp_Locale", vnpLocale)
	params.Set("vnp_ReturnUrl", returnURL)
	params.Set("vnp_IpAddr", validation.ClientIPv4(req.ClientIP))
	params.Set("vnp_CreateDate", now.Format(vnpDateLayout))
	params.Set("vnp_ExpireDate", now.Add(vnpPaymentTTL).Format(vnpDateLayout))
	if req.BankCode != "" {
		params.Set("vnp_BankCode", req.BankCode)
	}

	query := encodedQuery(params, sortedKeys(params, nil))
	signature := sign(sha512.New, v.opts.HashSecret, query)

	return v.opts.PayURL + "?" + query + "&" + vnpSecureHash + "=" + signature, nil
}

func isVNPaySigned(key string) bool {
	return strings.HasPrefix(key, "vnp_") && key != vnpSecureHash && key != vnpSecureHashType
}

// VerifyCallback проверяет подпись параметров return URL или IPN и извлекает данные платежа.
func (v *VNPay) VerifyCallback(params url.Values) Callback {
	keys := sortedKeys(params, func(k string) bool { return !isVNPaySigned(k) })
	expected := sign(sha512.New, v.opts.HashSecret, encodedQuery(params, keys))

	if v.opts.HashSecret == "" || !signatureMatches(expected, params.Get(vnpSecureHash)) {
		return Callback{Valid: false}
	}

	cb := Callback{
		Valid:      true,
		Reference:  params.Get("vnp_TransactionNo"),
		ResultCode: params.Get("vnp_ResponseCode"),
	}
	cb.Code, _ = validation.ExtractBookingCode(params.Get("vnp_TxnRef"))

	if raw, err := strconv.ParseInt(params.Get("vnp_Amount"), 10, 64); err == nil {
		cb.Amount = raw / 100
	}

	status := params.Get("vnp_TransactionStatus")
	cb.Success = cb.ResultCode == VNPaySuccessCode && (status == "" || status == VNPaySuccessCode)

	return cb
}

// txnRef составляет уникальную ссылку транзакции: код бронирования и время запроса.
// VNPay допускает только буквы и цифры, поэтому разделитель не используется.
func txnRef(code string, now time.Time) string {
	ref := keepAlnum(code+strconv.FormatInt(now.Unix(), 10), false)
	if len(ref) > vnpMaxTxnRefLength {
		ref = ref[:vnpMaxTxnRefLength]
	}
	return ref
}

func sanitizeOrderInfo(s string) string {
	return strings.Join(strings.Fields(keepAlnum(s, true)), " ")
}

func keepAlnum(s string, allowSpace bool) string {
	var b strings.Builder
	for _, ch := range s {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
			b.WriteRune(ch)
		case allowSpace && ch == ' ':
			b.WriteRune(ch)
		}
	}
	return b.String()
}
