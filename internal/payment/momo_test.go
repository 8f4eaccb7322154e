package payment

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestMoMo(endpoint string) *MoMo {
	m := NewMoMo(MoMoOptions{
		PartnerCode: "MOMO01",
		AccessKey:   "access",
		SecretKey:   "momo-secret",
		Endpoint:    endpoint,
		RedirectURL: "http://localhost:8080/api/payment/momo/return",
		IPNURL:      "http://localhost:8080/api/payment/momo/ipn",
	}, zap.NewNop())
	m.now = func() time.Time { return time.Unix(1792119045, 0) }
	return m
}

func momoCallbackParams() url.Values {
	return url.Values{
		"partnerCode":  {"MOMO01"},
		"orderId":      {"BKG3F9A2C-1792119045"},
		"requestId":    {"BKG3F9A2C-1792119045"},
		"amount":       {"400000"},
		"orderInfo":    {"Thanh toan tour Ha Long"},
		"orderType":    {"momo_wallet"},
		"transId":      {"4088878653"},
		"resultCode":   {"0"},
		"message":      {"Successful."},
		"payType":      {"qr"},
		"responseTime": {"1792119100000"},
		"extraData":    {""},
	}
}

func TestMoMoBuildRedirectURL_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}

		var req momoCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}

		raw := "accessKey=access&amount=400000&extraData=&ipnUrl=http://localhost:8080/api/payment/momo/ipn" +
			"&orderId=BKG3F9A2C-1792119045&orderInfo=Thanh toan tour Ha Long&partnerCode=MOMO01" +
			"&redirectUrl=http://localhost:8080/api/payment/momo/return&requestId=BKG3F9A2C-1792119045" +
			"&requestType=captureWallet"
		if req.Signature != sign(sha256.New, "momo-secret", raw) {
			t.Fatalf("unexpected signature for raw %q", raw)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(MoMoCreateResponse{
			OrderID:    req.OrderID,
			ResultCode: 0,
			PayURL:     "https://test-payment.momo.vn/pay/abc",
		})
	}))
	defer ts.Close()

	m := newTestMoMo(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	payURL, err := m.BuildRedirectURL(ctx, RedirectRequest{
		BookingCode: "BKG3F9A2C",
		Amount:      400000,
		OrderInfo:   "Thanh toan tour Ha Long",
	})
	if err != nil {
		t.Fatalf("BuildRedirectURL error: %v", err)
	}
	if payURL != "https://test-payment.momo.vn/pay/abc" {
		t.Fatalf("payURL = %q", payURL)
	}
}

func TestMoMoBuildRedirectURL_Rejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(MoMoCreateResponse{ResultCode: 22, Message: "amount out of range"})
	}))
	defer ts.Close()

	_, err := newTestMoMo(ts.URL).BuildRedirectURL(context.Background(), RedirectRequest{BookingCode: "BKG3F9A2C", Amount: 400000})
	if err == nil || !strings.Contains(err.Error(), "amount out of range") {
		t.Fatalf("expected rejection error, got %v", err)
	}
}

func TestMoMoBuildRedirectURL_UnexpectedStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := newTestMoMo(ts.URL).BuildRedirectURL(context.Background(), RedirectRequest{BookingCode: "BKG3F9A2C", Amount: 400000})
	if err == nil {
		t.Fatalf("expected error for 502")
	}
}

func TestMoMoBuildRedirectURL_NotConfigured(t *testing.T) {
	m := NewMoMo(MoMoOptions{}, zap.NewNop())
	_, err := m.BuildRedirectURL(context.Background(), RedirectRequest{BookingCode: "BKG3F9A2C", Amount: 1})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestMoMoVerifyCallback(t *testing.T) {
	m := newTestMoMo("")
	params := momoCallbackParams()
	params.Set(momoSignature, m.callbackSignature(params))

	cb := m.VerifyCallback(params)
	require.True(t, cb.Valid)
	assert.True(t, cb.Success)
	assert.Equal(t, "BKG3F9A2C", cb.Code)
	assert.Equal(t, int64(400000), cb.Amount)
	assert.Equal(t, "4088878653", cb.Reference)
}

func TestMoMoVerifyCallback_RejectsTampering(t *testing.T) {
	m := newTestMoMo("")
	signed := momoCallbackParams()
	signed.Set(momoSignature, m.callbackSignature(signed))

	for key := range momoCallbackParams() {
		t.Run(key, func(t *testing.T) {
			tampered := url.Values{}
			for k, vals := range signed {
				tampered[k] = append([]string(nil), vals...)
			}
			tampered.Set(key, tampered.Get(key)+"1")

			assert.False(t, m.VerifyCallback(tampered).Valid)
		})
	}
}

func TestDecodeMoMoNotification(t *testing.T) {
	m := newTestMoMo("")
	params := momoCallbackParams()
	params.Set(momoSignature, m.callbackSignature(params))

	body := `{"partnerCode":"MOMO01","orderId":"BKG3F9A2C-1792119045","requestId":"BKG3F9A2C-1792119045",` +
		`"amount":400000,"orderInfo":"Thanh toan tour Ha Long","orderType":"momo_wallet","transId":4088878653,` +
		`"resultCode":0,"message":"Successful.","payType":"qr","responseTime":1792119100000,"extraData":"",` +
		`"signature":"` + params.Get(momoSignature) + `"}`

	decoded, err := DecodeMoMoNotification(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "4088878653", decoded.Get("transId"))

	cb := m.VerifyCallback(decoded)
	assert.True(t, cb.Valid)
	assert.Equal(t, "BKG3F9A2C", cb.Code)

	_, err = DecodeMoMoNotification(strings.NewReader(`{"amount":[1]}`))
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	v := NewVNPay(VNPayOptions{}, zap.NewNop())
	r := NewRegistry(v, nil)

	g, ok := r.Get(v.Provider())
	assert.True(t, ok)
	assert.Same(t, v, g)

	_, ok = r.Get("momo")
	assert.False(t, ok)
}
