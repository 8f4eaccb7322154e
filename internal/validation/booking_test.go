package validation

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidBookingCode(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		valid bool
	}{
		{name: "valid", code: "BKG3F9A2C", valid: true},
		{name: "lowercase", code: "BKG3f9a2c", valid: false},
		{name: "wrong prefix", code: "BKX3F9A2C", valid: false},
		{name: "too short", code: "BKG3F9", valid: false},
		{name: "too long", code: "BKG3F9A2CD", valid: false},
		{name: "empty string", code: "", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidBookingCode(tt.code)
			if got != tt.valid {
				t.Fatalf("IsValidBookingCode(%q) = %v, want %v", tt.code, got, tt.valid)
			}
		})
	}
}

func TestExtractBookingCode(t *testing.T) {
	tests := []struct {
		name string
		ref  string
		code string
		ok   bool
	}{
		{name: "plain code", ref: "BKG3F9A2C", code: "BKG3F9A2C", ok: true},
		{name: "dash suffix", ref: "BKG3F9A2C-1700000000", code: "BKG3F9A2C", ok: true},
		{name: "underscore suffix", ref: "BKG3F9A2C_retry", code: "BKG3F9A2C", ok: true},
		{name: "stripped suffix", ref: "BKG3F9A2C1700000000", code: "BKG3F9A2C", ok: true},
		{name: "lowercase input", ref: "bkg3f9a2c-1", code: "BKG3F9A2C", ok: true},
		{name: "garbage", ref: "TXN123", ok: false},
		{name: "empty", ref: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := ExtractBookingCode(tt.ref)
			if ok != tt.ok {
				t.Fatalf("ExtractBookingCode(%q) ok = %v, want %v", tt.ref, ok, tt.ok)
			}
			if code != tt.code {
				t.Fatalf("ExtractBookingCode(%q) = %q, want %q", tt.ref, code, tt.code)
			}
		})
	}
}

func TestIsValidPhone(t *testing.T) {
	if !IsValidPhone("+84 (90) 123-4567") {
		t.Fatalf("expected valid phone")
	}
	for _, phone := range []string{"", "1234", "0901abc567", "1234567890123456"} {
		if IsValidPhone(phone) {
			t.Fatalf("IsValidPhone(%q) = true, want false", phone)
		}
	}
}

func TestClientIPv4(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "203.0.113.7", want: "203.0.113.7"},
		{raw: "203.0.113.7, 10.0.0.1", want: "203.0.113.7"},
		{raw: "203.0.113.7:52311", want: "203.0.113.7"},
		{raw: "::ffff:192.168.1.10", want: "192.168.1.10"},
		{raw: "2001:db8::1", want: "127.0.0.1"},
		{raw: "", want: "127.0.0.1"},
		{raw: "not-an-ip", want: "127.0.0.1"},
	}

	for _, tt := range tests {
		if got := ClientIPv4(tt.raw); got != tt.want {
			t.Fatalf("ClientIPv4(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

type contactForm struct {
	Name  string `validate:"notblank"`
	Email string `validate:"required,email"`
	Phone string `validate:"required,phone"`
	Seats int    `validate:"gte=0"`
}

func TestStruct(t *testing.T) {
	valid := contactForm{Name: "Nguyen Van A", Email: "guest@example.com", Phone: "0901234567", Seats: 2}
	require.NoError(t, Struct(valid))

	tests := []struct {
		name   string
		mutate func(f *contactForm)
		field  string
		tag    string
	}{
		{"blank name", func(f *contactForm) { f.Name = "   " }, "Name", "notblank"},
		{"bad email", func(f *contactForm) { f.Email = "guest" }, "Email", "email"},
		{"missing email", func(f *contactForm) { f.Email = "" }, "Email", "required"},
		{"letters in phone", func(f *contactForm) { f.Phone = "0901abc567" }, "Phone", "phone"},
		{"negative seats", func(f *contactForm) { f.Seats = -1 }, "Seats", "gte"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := valid
			tt.mutate(&form)

			var fieldErrs validator.ValidationErrors
			require.True(t, errors.As(Struct(form), &fieldErrs))
			require.Len(t, fieldErrs, 1)
			assert.Equal(t, tt.field, fieldErrs[0].Field())
			assert.Equal(t, tt.tag, fieldErrs[0].Tag())
		})
	}
}
