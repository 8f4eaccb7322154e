// Package validation содержит функции валидации входных данных.
package validation

import (
	"net"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return IsValidPhone(fl.Field().String())
	})
	return v
}

// Struct проверяет поля структуры по тегам validate. Кроме встроенных правил
// доступны notblank и phone. Ошибки полей возвращаются как validator.ValidationErrors.
func Struct(v any) error {
	return validate.Struct(v)
}

// Формат кода бронирования: префикс и шесть символов [A-Z0-9].
const (
	BookingCodePrefix = "BKG"
	BookingCodeLength = 9
)

// IsValidBookingCode проверяет формат кода бронирования.
func IsValidBookingCode(code string) bool {
	if len(code) != BookingCodeLength || !strings.HasPrefix(code, BookingCodePrefix) {
		return false
	}

	for _, ch := range code {
		if !isCodeRune(ch) {
			return false
		}
	}

	return true
}

func isCodeRune(ch rune) bool {
	return (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}

// ExtractBookingCode восстанавливает код бронирования из ссылки платёжного шлюза.
// Ссылка может содержать суффикс через "-" или "_", а также может прийти
// без разделителей, если шлюз вырезал неалфавитно-цифровые символы.
func ExtractBookingCode(ref string) (string, bool) {
	ref = strings.ToUpper(strings.TrimSpace(ref))
	if i := strings.IndexAny(ref, "-_"); i >= 0 {
		ref = ref[:i]
	}

	var b strings.Builder
	for _, ch := range ref {
		if isCodeRune(ch) {
			b.WriteRune(ch)
		}
	}

	cleaned := b.String()
	if len(cleaned) < BookingCodeLength {
		return "", false
	}

	code := cleaned[:BookingCodeLength]
	if !IsValidBookingCode(code) {
		return "", false
	}

	return code, true
}

// IsValidPhone допускает цифры, пробелы, "+", "-" и скобки; цифр должно быть от 8 до 15.
func IsValidPhone(phone string) bool {
	digits := 0
	for _, ch := range phone {
		switch {
		case unicode.IsDigit(ch):
			digits++
		case ch == '+' || ch == '-' || ch == ' ' || ch == '(' || ch == ')':
		default:
			return false
		}
	}
	return digits >= 8 && digits <= 15
}

// ClientIPv4 нормализует адрес клиента для платёжного шлюза.
// Шлюз принимает только IPv4, поэтому всё остальное заменяется на 127.0.0.1.
func ClientIPv4(raw string) string {
	const fallback = "127.0.0.1"

	ip := strings.TrimSpace(raw)
	if i := strings.IndexByte(ip, ','); i >= 0 {
		ip = strings.TrimSpace(ip[:i])
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	ip = strings.TrimPrefix(ip, "::ffff:")

	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return fallback
	}
	return parsed.To4().String()
}
