// Package model содержит доменные сущности сервиса бронирования туров.
package model

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChildPriceRatio задаёт долю взрослой цены, применяемая к детям, если у тура не задана детская цена.
const ChildPriceRatio = 0.6

// TourStatus описывает стадию жизненного цикла тура.
type TourStatus string

const (
	TourStatusPending    TourStatus = "pending"
	TourStatusConfirmed  TourStatus = "confirmed"
	TourStatusInProgress TourStatus = "in_progress"
	TourStatusCompleted  TourStatus = "completed"
	TourStatusClosed     TourStatus = "closed"
)

// ParseTourStatus проверяет строку и возвращает статус тура.
func ParseTourStatus(s string) (TourStatus, error) {
	switch st := TourStatus(strings.TrimSpace(s)); st {
	case TourStatusPending, TourStatusConfirmed, TourStatusInProgress, TourStatusCompleted, TourStatusClosed:
		return st, nil
	}
	return "", fmt.Errorf("unknown tour status %q", s)
}

// Tour представляет тур и его счётчик занятых мест.
type Tour struct {
	ID            uuid.UUID
	Title         string `validate:"notblank"`
	Destination   string
	StartDate     *time.Time
	EndDate       *time.Time
	Quantity      *int `validate:"omitempty,gte=0"`
	MinGuests     int  `validate:"gte=0"`
	CurrentGuests int
	PriceAdult    int64  `validate:"gt=0"`
	PriceChild    *int64 `validate:"omitempty,gte=0"`
	Status        TourStatus
	ConfirmedAt   *time.Time
	DepartedAt    *time.Time
	FinishedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EffectivePriceChild возвращает детскую цену тура или 60% взрослой, если она не задана.
func (t *Tour) EffectivePriceChild() int64 {
	if t.PriceChild != nil {
		return *t.PriceChild
	}
	return int64(math.Round(float64(t.PriceAdult) * ChildPriceRatio))
}

// Remaining возвращает число свободных мест. Для тура без ограничения второй результат равен false.
func (t *Tour) Remaining() (int, bool) {
	if t.Quantity == nil {
		return 0, false
	}
	left := *t.Quantity - t.CurrentGuests
	if left < 0 {
		left = 0
	}
	return left, true
}

// CheckCapacity сообщает, поместятся ли additional гостей, и сколько мест осталось.
func (t *Tour) CheckCapacity(additional int) (bool, int) {
	remaining, limited := t.Remaining()
	if !limited {
		return true, -1
	}
	return t.CurrentGuests+additional <= *t.Quantity, remaining
}

// AlreadyConfirmed сообщает, набрал ли тур минимальное число гостей.
func (t *Tour) AlreadyConfirmed() bool {
	return t.Status == TourStatusConfirmed || t.CurrentGuests >= t.MinGuests
}

// AcceptsBookings сообщает, можно ли создавать новые бронирования на тур.
// Закрытый, завершённый и уже отправившийся тур новых бронирований не принимает.
func (t *Tour) AcceptsBookings() bool {
	switch t.Status {
	case TourStatusClosed, TourStatusCompleted, TourStatusInProgress:
		return false
	}
	return true
}

// TourEventType обозначает тип события в хронологии тура.
type TourEventType string

const (
	TourEventDeparted   TourEventType = "departed"
	TourEventArrived    TourEventType = "arrived"
	TourEventCheckpoint TourEventType = "checkpoint"
	TourEventNote       TourEventType = "note"
	TourEventFinished   TourEventType = "finished"
)

// ParseTourEventType проверяет тип события хронологии.
func ParseTourEventType(s string) (TourEventType, error) {
	switch et := TourEventType(strings.TrimSpace(s)); et {
	case TourEventDeparted, TourEventArrived, TourEventCheckpoint, TourEventNote, TourEventFinished:
		return et, nil
	}
	return "", fmt.Errorf("unknown tour event %q", s)
}

// TourEvent описывает запись хронологии тура, добавленная администратором.
type TourEvent struct {
	ID        int64
	TourID    uuid.UUID
	Type      TourEventType
	Note      string
	At        time.Time
	CreatedBy uuid.UUID
}

// BookingStatus описывает статус бронирования.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCanceled  BookingStatus = "canceled"
)

// ParseBookingStatus принимает как полные названия, так и однобуквенные коды p/c/x.
func ParseBookingStatus(s string) (BookingStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "p", string(BookingStatusPending):
		return BookingStatusPending, nil
	case "c", string(BookingStatusConfirmed):
		return BookingStatusConfirmed, nil
	case "x", string(BookingStatusCanceled), "cancelled":
		return BookingStatusCanceled, nil
	}
	return "", fmt.Errorf("unknown booking status %q", s)
}

// PaymentMethod обозначает способ оплаты бронирования.
type PaymentMethod string

const (
	PaymentMethodVNPay  PaymentMethod = "vnpay"
	PaymentMethodMoMo   PaymentMethod = "momo"
	PaymentMethodOffice PaymentMethod = "office"
	PaymentMethodCOD    PaymentMethod = "cod"
	PaymentMethodManual PaymentMethod = "manual"
)

var paymentMethodAliases = map[string]PaymentMethod{
	"vnpay-payment":  PaymentMethodVNPay,
	"momo-payment":   PaymentMethodMoMo,
	"office-payment": PaymentMethodOffice,
	"office":         PaymentMethodOffice,
	"vnpay":          PaymentMethodVNPay,
	"momo":           PaymentMethodMoMo,
	"cod":            PaymentMethodCOD,
	"manual":         PaymentMethodManual,
}

// NormalizePaymentMethod приводит значение от клиента к PaymentMethod.
// Неизвестные значения возвращаются без изменений, пустое значение означает VNPay.
func NormalizePaymentMethod(raw string) PaymentMethod {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PaymentMethodVNPay
	}
	if m, ok := paymentMethodAliases[strings.ToLower(trimmed)]; ok {
		return m
	}
	return PaymentMethod(trimmed)
}

// Offline сообщает, что оплата принимается вне платёжных шлюзов.
func (m PaymentMethod) Offline() bool {
	switch m {
	case PaymentMethodOffice, PaymentMethodCOD, PaymentMethodManual:
		return true
	}
	return false
}

// Провайдеры записей журнала платежей, не являющиеся шлюзами.
const (
	ProviderManual = "manual"
	ProviderRefund = "refund"
)

// PaymentRef описывает запись журнала платежей бронирования. Пара (Provider, Ref) уникальна в пределах бронирования.
type PaymentRef struct {
	Provider string
	Ref      string
	Amount   int64
	Note     string
	At       time.Time
}

// Booking представляет бронирование тура.
type Booking struct {
	ID                 uuid.UUID
	Code               string
	TourID             uuid.UUID
	UserID             uuid.UUID
	FullName           string
	Email              string
	PhoneNumber        string
	Address            string
	Note               string
	NumAdults          int
	NumChildren        int
	TotalPrice         int64
	DepositRate        float64
	DepositAmount      int64
	PaidAmount         int64
	DepositPaid        bool
	RequireFullPayment bool
	Status             BookingStatus
	PaymentMethod      PaymentMethod
	CapacityConflict   bool
	PaymentRefs        []PaymentRef
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Guests возвращает общее число гостей бронирования.
func (b *Booking) Guests() int {
	return b.NumAdults + b.NumChildren
}

// Remaining возвращает неоплаченный остаток.
func (b *Booking) Remaining() int64 {
	if b.PaidAmount >= b.TotalPrice {
		return 0
	}
	return b.TotalPrice - b.PaidAmount
}

// AmountDue возвращает сумму, которую следует запросить у шлюза при следующей оплате.
func (b *Booking) AmountDue() int64 {
	if !b.DepositPaid && b.PaidAmount < b.DepositAmount {
		return b.DepositAmount - b.PaidAmount
	}
	return b.Remaining()
}

// BookingFilter задаёт условия выборки бронирований в административном списке.
type BookingFilter struct {
	Status *BookingStatus
	TourID *uuid.UUID
	Search string
	Page   int
	Limit  int
}

// Offset возвращает смещение для текущей страницы.
func (f BookingFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// PaymentMethodStats содержит агрегаты оплат по одному способу оплаты.
type PaymentMethodStats struct {
	Method      PaymentMethod `json:"method"`
	Bookings    int           `json:"bookings"`
	DepositPaid int           `json:"depositPaid"`
	PaidAmount  int64         `json:"paidAmount"`
	TotalAmount int64         `json:"totalAmount"`
}

// PaymentStats содержит сводную статистику оплат.
type PaymentStats struct {
	ByMethod      []PaymentMethodStats `json:"byMethod"`
	TotalBookings int                  `json:"totalBookings"`
	TotalPaid     int64                `json:"totalPaid"`
	TotalValue    int64                `json:"totalValue"`
}
