package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/tourbooking-system/internal/model"
	"github.com/mmeshcher/tourbooking-system/internal/service"
)

const maxBodyBytes = 1 << 20

var errInvalidTourID = errors.New("invalid tourId")

// flexInt принимает число как в виде JSON-числа, так и строкой.
type flexInt struct {
	value int
	set   bool
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		data = []byte(s)
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("invalid number %s", data)
	}
	f.value, f.set = n, true
	return nil
}

func (f flexInt) or(def int) int {
	if !f.set {
		return def
	}
	return f.value
}

type contactRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

type guestsRequest struct {
	Adults   flexInt `json:"adults"`
	Children flexInt `json:"children"`
}

// createBookingRequest объединяет вложенную и плоскую формы тела запроса.
type createBookingRequest struct {
	TourID        string `json:"tourId"`
	PaymentMethod string `json:"paymentMethod"`
	Note          string `json:"note"`
	BankCode      string `json:"bankCode"`

	Contact *contactRequest `json:"contact"`
	Guests  *guestsRequest  `json:"guests"`

	NumAdults   flexInt `json:"numAdults"`
	NumChildren flexInt `json:"numChildren"`
	FullName    string  `json:"fullName"`
	Email       string  `json:"email"`
	PhoneNumber string  `json:"phoneNumber"`
	Address     string  `json:"address"`
}

// decodeCreateBooking читает тело запроса на бронирование в любой из двух форм
// и возвращает каноническое представление. Отсутствующее число взрослых означает одного взрослого.
func decodeCreateBooking(r io.Reader) (service.CreateBookingInput, error) {
	var req createBookingRequest
	if err := json.NewDecoder(io.LimitReader(r, maxBodyBytes)).Decode(&req); err != nil {
		return service.CreateBookingInput{}, fmt.Errorf("decode booking request: %w", err)
	}

	tourID, err := uuid.Parse(strings.TrimSpace(req.TourID))
	if err != nil {
		return service.CreateBookingInput{}, errInvalidTourID
	}

	in := service.CreateBookingInput{
		TourID:        tourID,
		Note:          strings.TrimSpace(req.Note),
		PaymentMethod: req.PaymentMethod,
		BankCode:      strings.TrimSpace(req.BankCode),
	}

	if req.Contact != nil {
		in.Contact = service.Contact{
			FullName:    req.Contact.FullName,
			Email:       req.Contact.Email,
			PhoneNumber: req.Contact.Phone,
			Address:     req.Contact.Address,
		}
		guests := guestsRequest{}
		if req.Guests != nil {
			guests = *req.Guests
		}
		in.NumAdults = guests.Adults.or(1)
		in.NumChildren = guests.Children.or(0)
		return in, nil
	}

	in.Contact = service.Contact{
		FullName:    req.FullName,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		Address:     req.Address,
	}
	in.NumAdults = req.NumAdults.or(1)
	in.NumChildren = req.NumChildren.or(0)
	return in, nil
}

type paymentRefResponse struct {
	Provider string    `json:"provider"`
	Ref      string    `json:"ref"`
	Amount   int64     `json:"amount"`
	Note     string    `json:"note,omitempty"`
	At       time.Time `json:"at"`
}

type bookingResponse struct {
	ID                 uuid.UUID            `json:"id"`
	Code               string               `json:"code"`
	TourID             uuid.UUID            `json:"tourId"`
	FullName           string               `json:"fullName"`
	Email              string               `json:"email"`
	PhoneNumber        string               `json:"phoneNumber"`
	Address            string               `json:"address,omitempty"`
	Note               string               `json:"note,omitempty"`
	NumAdults          int                  `json:"numAdults"`
	NumChildren        int                  `json:"numChildren"`
	TotalPrice         int64                `json:"totalPrice"`
	DepositRate        float64              `json:"depositRate"`
	DepositAmount      int64                `json:"depositAmount"`
	PaidAmount         int64                `json:"paidAmount"`
	RemainingAmount    int64                `json:"remainingAmount"`
	DepositPaid        bool                 `json:"depositPaid"`
	RequireFullPayment bool                 `json:"requireFullPayment"`
	BookingStatus      model.BookingStatus  `json:"bookingStatus"`
	PaymentMethod      model.PaymentMethod  `json:"paymentMethod"`
	CapacityConflict   bool                 `json:"capacityConflict,omitempty"`
	PaymentRefs        []paymentRefResponse `json:"paymentRefs,omitempty"`
	CreatedAt          time.Time            `json:"createdAt"`
}

func newPaymentRefs(refs []model.PaymentRef) []paymentRefResponse {
	if len(refs) == 0 {
		return nil
	}
	resp := make([]paymentRefResponse, 0, len(refs))
	for _, p := range refs {
		resp = append(resp, paymentRefResponse{Provider: p.Provider, Ref: p.Ref, Amount: p.Amount, Note: p.Note, At: p.At})
	}
	return resp
}

func newBookingResponse(b *model.Booking) bookingResponse {
	return bookingResponse{
		ID:                 b.ID,
		Code:               b.Code,
		TourID:             b.TourID,
		FullName:           b.FullName,
		Email:              b.Email,
		PhoneNumber:        b.PhoneNumber,
		Address:            b.Address,
		Note:               b.Note,
		NumAdults:          b.NumAdults,
		NumChildren:        b.NumChildren,
		TotalPrice:         b.TotalPrice,
		DepositRate:        b.DepositRate,
		DepositAmount:      b.DepositAmount,
		PaidAmount:         b.PaidAmount,
		RemainingAmount:    b.Remaining(),
		DepositPaid:        b.DepositPaid,
		RequireFullPayment: b.RequireFullPayment,
		BookingStatus:      b.Status,
		PaymentMethod:      b.PaymentMethod,
		CapacityConflict:   b.CapacityConflict,
		PaymentRefs:        newPaymentRefs(b.PaymentRefs),
		CreatedAt:          b.CreatedAt,
	}
}

func newBookingList(list []model.Booking) []bookingResponse {
	resp := make([]bookingResponse, 0, len(list))
	for i := range list {
		resp = append(resp, newBookingResponse(&list[i]))
	}
	return resp
}

type pageResponse struct {
	Bookings   []bookingResponse `json:"bookings"`
	Pagination paginationInfo    `json:"pagination"`
}

type paginationInfo struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

func newPageResponse(p *service.BookingPage) pageResponse {
	return pageResponse{
		Bookings: newBookingList(p.Bookings),
		Pagination: paginationInfo{
			Page:  p.Page,
			Limit: p.Limit,
			Total: p.Total,
			Pages: p.Pages(),
		},
	}
}

type pricingResponse struct {
	PriceAdult    int64   `json:"priceAdult"`
	PriceChild    int64   `json:"priceChild"`
	Total         int64   `json:"total"`
	DepositRate   float64 `json:"depositRate"`
	DepositAmount int64   `json:"depositAmount"`
}

type paymentLink struct {
	RedirectURL *string `json:"redirectUrl"`
	Error       string  `json:"error,omitempty"`
}

type createBookingResponse struct {
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Status  string          `json:"status"`
	Payment paymentLink     `json:"payment"`
	PayURL  *string         `json:"payUrl"`
	Total   int64           `json:"total"`
	Pricing pricingResponse `json:"pricing"`
	Booking bookingResponse `json:"booking"`
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func newCreateBookingResponse(res *service.CreateBookingResult) createBookingResponse {
	msg := "Booking created! Please proceed to payment."
	if res.Booking.RequireFullPayment {
		msg = "Booking created! Tour is confirmed, full payment required."
	}
	url := optionalString(res.PaymentURL)
	return createBookingResponse{
		Message: msg,
		Code:    res.Booking.Code,
		Status:  string(res.Booking.Status),
		Payment: paymentLink{RedirectURL: url, Error: res.PaymentError},
		PayURL:  url,
		Total:   res.Booking.TotalPrice,
		Pricing: pricingResponse{
			PriceAdult:    res.Pricing.PriceAdult,
			PriceChild:    res.Pricing.PriceChild,
			Total:         res.Pricing.Total,
			DepositRate:   res.Pricing.DepositRate,
			DepositAmount: res.Pricing.DepositAmount,
		},
		Booking: newBookingResponse(res.Booking),
	}
}

type settlementResponse struct {
	Applied          bool            `json:"applied"`
	FirstDeposit     bool            `json:"firstDeposit"`
	BecameConfirmed  bool            `json:"becameConfirmed"`
	TourConfirmed    bool            `json:"tourConfirmed"`
	CapacityConflict bool            `json:"capacityConflict"`
	Booking          bookingResponse `json:"booking"`
}

func newSettlementResponse(res *service.SettlementResult) settlementResponse {
	return settlementResponse{
		Applied:          res.Applied,
		FirstDeposit:     res.FirstDeposit,
		BecameConfirmed:  res.BecameConfirmed,
		TourConfirmed:    res.TourConfirmed,
		CapacityConflict: res.CapacityConflict,
		Booking:          newBookingResponse(res.Booking),
	}
}
