// Package payment содержит адаптеры платёжных шлюзов VNPay и MoMo.
//
// Адаптер строит ссылку на оплату и проверяет подпись обратного вызова шлюза.
// Подпись служит единственной границей доверия: неподписанные данные из сети не применяются.
package payment

import (
	"context"
	"crypto/hmac"
	"encoding/hex"
	"errors"
	"hash"
	"net/url"
	"sort"
	"strings"

	"github.com/mmeshcher/tourbooking-system/internal/model"
)

// ErrNotConfigured возвращается, если для шлюза не заданы учётные данные.
var ErrNotConfigured = errors.New("payment gateway is not configured")

// RedirectRequest содержит данные для построения ссылки на оплату.
type RedirectRequest struct {
	BookingCode string
	Amount      int64
	ClientIP    string
	OrderInfo   string
	ReturnURL   string
	BankCode    string
}

// Callback описывает результат проверки обратного вызова шлюза.
type Callback struct {
	Valid      bool
	Code       string
	Amount     int64
	Reference  string
	ResultCode string
	Success    bool
}

// Gateway описывает контракт адаптера платёжного шлюза.
type Gateway interface {
	Provider() model.PaymentMethod
	BuildRedirectURL(ctx context.Context, req RedirectRequest) (string, error)
	VerifyCallback(params url.Values) Callback
}

// Registry сопоставляет способ оплаты и адаптер шлюза.
type Registry map[model.PaymentMethod]Gateway

// NewRegistry создаёт реестр из переданных адаптеров, пропуская nil.
func NewRegistry(gateways ...Gateway) Registry {
	r := make(Registry, len(gateways))
	for _, g := range gateways {
		if g != nil {
			r[g.Provider()] = g
		}
	}
	return r
}

// Get возвращает адаптер для способа оплаты.
func (r Registry) Get(m model.PaymentMethod) (Gateway, bool) {
	g, ok := r[m]
	return g, ok
}

func sortedKeys(params url.Values, skip func(key string) bool) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if skip != nil && skip(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// encodedQuery собирает k=v с URL-кодированием значений (пробел как "+") в порядке ключей.
func encodedQuery(params url.Values, keys []string) string {
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}
	return b.String()
}

// rawQuery собирает k=v без кодирования в порядке ключей.
func rawQuery(params url.Values, keys []string) string {
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params.Get(k))
	}
	return b.String()
}

func sign(newHash func() hash.Hash, secret, data string) string {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func signatureMatches(expected, received string) bool {
	if received == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(received)))
}
