package payment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/tourbooking-system/internal/model"
	"github.com/mmeshcher/tourbooking-system/internal/validation"
)

const (
	momoRequestType = "captureWallet"
	momoLang        = "vi"
	momoSignature   = "signature"

	// MoMoSuccessCode обозначает значение resultCode успешной оплаты.
	MoMoSuccessCode = "0"
)

// MoMoOptions содержит параметры подключения к MoMo.
type MoMoOptions struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
	RedirectURL string
	IPNURL      string
}

// MoMo реализует Gateway для кошелька MoMo: создание платежа через API и проверка подписи HMAC-SHA256.
type MoMo struct {
	opts       MoMoOptions
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// NewMoMo создаёт адаптер MoMo.
func NewMoMo(opts MoMoOptions, logger *zap.Logger) *MoMo {
	return &MoMo{
		opts: opts,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
		now:    time.Now,
	}
}

// Provider возвращает способ оплаты, обслуживаемый адаптером.
func (m *MoMo) Provider() model.PaymentMethod {
	return model.PaymentMethodMoMo
}

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	ExtraData   string `json:"extraData"`
	RequestType string `json:"requestType"`
	Lang        string `json:"lang"`
	Signature   string `json:"signature"`
}

// MoMoCreateResponse описывает ответ MoMo на создание платежа.
type MoMoCreateResponse struct {
	PartnerCode string `json:"partnerCode"`
	OrderID     string `json:"orderId"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	ResultCode  int    `json:"resultCode"`
	Message     string `json:"message"`
	PayURL      string `json:"payUrl"`
}

// BuildRedirectURL создаёт платёж в MoMo и возвращает payUrl.
func (m *MoMo) BuildRedirectURL(ctx context.Context, req RedirectRequest) (string, error) {
	if m.opts.PartnerCode == "" || m.opts.AccessKey == "" || m.opts.SecretKey == "" || m.opts.Endpoint == "" {
		return "", ErrNotConfigured
	}
	if req.Amount <= 0 {
		return "", fmt.Errorf("momo: amount must be positive, got %d", req.Amount)
	}

	orderID := req.BookingCode + "-" + strconv.FormatInt(m.now().Unix(), 10)
	redirectURL := req.ReturnURL
	if redirectURL == "" {
		redirectURL = m.opts.RedirectURL
	}
	orderInfo := req.OrderInfo
	if orderInfo == "" {
		orderInfo = "Thanh toan dat tour " + req.BookingCode
	}

	body := momoCreateRequest{
		PartnerCode: m.opts.PartnerCode,
		AccessKey:   m.opts.AccessKey,
		RequestID:   orderID,
		Amount:      req.Amount,
		OrderID:     orderID,
		OrderInfo:   orderInfo,
		RedirectURL: redirectURL,
		IPNURL:      m.opts.IPNURL,
		RequestType: momoRequestType,
		Lang:        momoLang,
	}

	signed := url.Values{}
	signed.Set("accessKey", body.AccessKey)
	signed.Set("amount", strconv.FormatInt(body.Amount, 10))
	signed.Set("extraData", body.ExtraData)
	signed.Set("ipnUrl", body.IPNURL)
	signed.Set("orderId", body.OrderID)
	signed.Set("orderInfo", body.OrderInfo)
	signed.Set("partnerCode", body.PartnerCode)
	signed.Set("redirectUrl", body.RedirectURL)
	signed.Set("requestId", body.RequestID)
	signed.Set("requestType", body.RequestType)
	body.Signature = sign(sha256.New, m.opts.SecretKey, rawQuery(signed, sortedKeys(signed, nil)))

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.opts.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result MoMoCreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if result.ResultCode != 0 || result.PayURL == "" {
		return "", fmt.Errorf("momo rejected payment: code %d: %s", result.ResultCode, result.Message)
	}

	m.logger.Debug("momo payment created", zap.String("orderId", orderID), zap.Int64("amount", req.Amount))

	return result.PayURL, nil
}

// VerifyCallback проверяет подпись redirect- или IPN-уведомления MoMo.
// Подписываются все поля, кроме signature, вместе с accessKey, в алфавитном порядке ключей.
func (m *MoMo) VerifyCallback(params url.Values) Callback {
	if m.opts.SecretKey == "" {
		return Callback{Valid: false}
	}
	if !signatureMatches(m.callbackSignature(params), params.Get(momoSignature)) {
		return Callback{Valid: false}
	}

	cb := Callback{
		Valid:      true,
		Reference:  params.Get("transId"),
		ResultCode: params.Get("resultCode"),
	}
	cb.Code, _ = validation.ExtractBookingCode(params.Get("orderId"))
	if amount, err := strconv.ParseInt(params.Get("amount"), 10, 64); err == nil {
		cb.Amount = amount
	}
	cb.Success = cb.ResultCode == MoMoSuccessCode

	return cb
}

func (m *MoMo) callbackSignature(params url.Values) string {
	signed := url.Values{}
	for k := range params {
		if k == momoSignature || k == "accessKey" {
			continue
		}
		signed.Set(k, params.Get(k))
	}
	signed.Set("accessKey", m.opts.AccessKey)
	return sign(sha256.New, m.opts.SecretKey, rawQuery(signed, sortedKeys(signed, nil)))
}

// DecodeMoMoNotification читает JSON-тело IPN MoMo и приводит его к набору параметров.
// Числа сохраняются в исходной записи, чтобы подпись сошлась.
func DecodeMoMoNotification(r io.Reader) (url.Values, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode momo notification: %w", err)
	}

	params := url.Values{}
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			params.Set(k, "")
		case string:
			params.Set(k, val)
		case json.Number:
			params.Set(k, val.String())
		case bool:
			params.Set(k, strconv.FormatBool(val))
		default:
			return nil, fmt.Errorf("decode momo notification: unsupported value for %q", k)
		}
	}
	return params, nil
}
