package model

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/mmeshcher/tourbooking-system/internal/validation"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewBookingCode генерирует код бронирования вида BKG3F9A2C.
func NewBookingCode() (string, error) {
	n := validation.BookingCodeLength - len(validation.BookingCodePrefix)
	buf := make([]byte, 0, validation.BookingCodeLength)
	buf = append(buf, validation.BookingCodePrefix...)

	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate booking code: %w", err)
		}
		buf = append(buf, codeAlphabet[idx.Int64()])
	}

	return string(buf), nil
}
