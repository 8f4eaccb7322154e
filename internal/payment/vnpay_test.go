package payment

import (
	"context"
	"crypto/sha512"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testVNPSecret = "VNPAYSECRETKEY0123456789"

func newTestVNPay(t *testing.T) (*VNPay, *observer.ObservedLogs) {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	v := NewVNPay(VNPayOptions{
		TmnCode:    "TMN01",
		HashSecret: testVNPSecret,
		PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "http://localhost:8080/api/payment/vnpay/return",
	}, zap.New(core))
	v.now = func() time.Time { return time.Date(2026, 10, 16, 3, 4, 5, 0, time.UTC) }
	return v, logs
}

func signedVNPayCallback(params url.Values) url.Values {
	keys := sortedKeys(params, func(k string) bool { return !isVNPaySigned(k) })
	params.Set(vnpSecureHash, sign(sha512.New, testVNPSecret, encodedQuery(params, keys)))
	params.Set(vnpSecureHashType, "HmacSHA512")
	return params
}

func vnpayCallbackParams() url.Values {
	return url.Values{
		"vnp_Amount":            {"40000000"},
		"vnp_BankCode":          {"NCB"},
		"vnp_OrderInfo":         {"Thanh toan dat tour BKG3F9A2C"},
		"vnp_PayDate":           {"20261016100405"},
		"vnp_ResponseCode":      {"00"},
		"vnp_TmnCode":           {"TMN01"},
		"vnp_TransactionNo":     {"TXN123"},
		"vnp_TransactionStatus": {"00"},
		"vnp_TxnRef":            {"BKG3F9A2C1792119045"},
	}
}

func TestVNPayBuildRedirectURL(t *testing.T) {
	v, _ := newTestVNPay(t)

	raw, err := v.BuildRedirectURL(context.Background(), RedirectRequest{
		BookingCode: "BKG3F9A2C",
		Amount:      400000,
		ClientIP:    "::ffff:203.0.113.7",
		OrderInfo:   "Thanh toán tour Hạ Long #1",
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(raw, "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html?"))

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, "2.1.0", q.Get("vnp_Version"))
	assert.Equal(t, "pay", q.Get("vnp_Command"))
	assert.Equal(t, "TMN01", q.Get("vnp_TmnCode"))
	assert.Equal(t, "40000000", q.Get("vnp_Amount"))
	assert.Equal(t, "VND", q.Get("vnp_CurrCode"))
	assert.Equal(t, "vn", q.Get("vnp_Locale"))
	assert.Equal(t, "203.0.113.7", q.Get("vnp_IpAddr"))
	assert.Equal(t, "20261016100405", q.Get("vnp_CreateDate"))
	assert.Equal(t, "20261016101905", q.Get("vnp_ExpireDate"))
	assert.Equal(t, "Thanh ton tour H Long 1", q.Get("vnp_OrderInfo"))
	assert.Equal(t, "http://localhost:8080/api/payment/vnpay/return", q.Get("vnp_ReturnUrl"))
	assert.Equal(t, "BKG3F9A2C1792119845", q.Get("vnp_TxnRef"))
	assert.Len(t, q.Get(vnpSecureHash), 128)

	// Ссылка, подписанная адаптером, проходит его же проверку.
	cb := v.VerifyCallback(q)
	assert.True(t, cb.Valid)
	assert.Equal(t, "BKG3F9A2C", cb.Code)
	assert.Equal(t, int64(400000), cb.Amount)
}

func TestVNPayBuildRedirectURL_Errors(t *testing.T) {
	v, _ := newTestVNPay(t)

	_, err := v.BuildRedirectURL(context.Background(), RedirectRequest{BookingCode: "BKG3F9A2C", Amount: 0})
	assert.Error(t, err)

	unconfigured := NewVNPay(VNPayOptions{}, zap.NewNop())
	_, err = unconfigured.BuildRedirectURL(context.Background(), RedirectRequest{BookingCode: "BKG3F9A2C", Amount: 400000})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestVNPayBuildRedirectURL_WarnsBelowMinimum(t *testing.T) {
	v, logs := newTestVNPay(t)

	_, err := v.BuildRedirectURL(context.Background(), RedirectRequest{BookingCode: "BKG3F9A2C", Amount: 5000})
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("vnpay amount below gateway minimum").Len())
}

func TestVNPayVerifyCallback(t *testing.T) {
	v, _ := newTestVNPay(t)

	cb := v.VerifyCallback(signedVNPayCallback(vnpayCallbackParams()))
	require.True(t, cb.Valid)
	assert.True(t, cb.Success)
	assert.Equal(t, "BKG3F9A2C", cb.Code)
	assert.Equal(t, int64(400000), cb.Amount)
	assert.Equal(t, "TXN123", cb.Reference)
	assert.Equal(t, "00", cb.ResultCode)
}

func TestVNPayVerifyCallback_FailedPayment(t *testing.T) {
	v, _ := newTestVNPay(t)

	params := vnpayCallbackParams()
	params.Set("vnp_ResponseCode", "24")
	params.Set("vnp_TransactionStatus", "02")

	cb := v.VerifyCallback(signedVNPayCallback(params))
	require.True(t, cb.Valid)
	assert.False(t, cb.Success)
	assert.Equal(t, "24", cb.ResultCode)
}

func TestVNPayVerifyCallback_RejectsTampering(t *testing.T) {
	v, _ := newTestVNPay(t)
	signed := signedVNPayCallback(vnpayCallbackParams())

	for key := range vnpayCallbackParams() {
		t.Run(key, func(t *testing.T) {
			tampered := url.Values{}
			for k, vals := range signed {
				tampered[k] = append([]string(nil), vals...)
			}

			value := []byte(tampered.Get(key))
			if value[len(value)-1] == '9' {
				value[len(value)-1] = '8'
			} else {
				value[len(value)-1] = '9'
			}
			tampered.Set(key, string(value))

			cb := v.VerifyCallback(tampered)
			assert.False(t, cb.Valid)
			assert.Empty(t, cb.Code)
		})
	}
}

func TestVNPayVerifyCallback_MissingOrForeignSignature(t *testing.T) {
	v, _ := newTestVNPay(t)

	params := vnpayCallbackParams()
	assert.False(t, v.VerifyCallback(params).Valid)

	params.Set(vnpSecureHash, sign(sha512.New, "other-secret", encodedQuery(params, sortedKeys(params, nil))))
	assert.False(t, v.VerifyCallback(params).Valid)
}

func TestVNPayVerifyCallback_IgnoresUnsignedExtras(t *testing.T) {
	v, _ := newTestVNPay(t)

	params := signedVNPayCallback(vnpayCallbackParams())
	params.Set("utm_source", "mail")

	assert.True(t, v.VerifyCallback(params).Valid)
}

func TestSanitizeOrderInfo(t *testing.T) {
	assert.Equal(t, "Thanh toan tour 123", sanitizeOrderInfo("  Thanh toan   tour #123! "))
	assert.Equal(t, "", sanitizeOrderInfo("###"))
}
