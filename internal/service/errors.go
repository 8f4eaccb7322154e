package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mmeshcher/tourbooking-system/internal/validation"
)

// Категории ошибок сервиса. Типизированные ошибки ниже сопоставляются с ними через errors.Is.
var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrConflict         = errors.New("conflict")
	ErrSignatureInvalid = errors.New("invalid signature")
	ErrUpstreamGateway  = errors.New("upstream gateway error")
)

// ValidationError сообщает о некорректных входных данных.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string        { return e.Msg }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// validateStruct проверяет теги validate и собирает ошибки полей в один ValidationError.
func validateStruct(v any) error {
	err := validation.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate %T: %w", v, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return &ValidationError{Msg: strings.Join(msgs, "; ")}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without", "notblank":
		return fe.Field() + " is required"
	case "email":
		return fmt.Sprintf("invalid email %q", fe.Value())
	case "phone":
		return fmt.Sprintf("invalid phone number %q", fe.Value())
	case "gte":
		return fe.Field() + " must not be negative"
	case "gt":
		return fe.Field() + " must be positive"
	}
	return fmt.Sprintf("%s fails %s rule", fe.Field(), fe.Tag())
}

// NotFoundError сообщает, что сущность не найдена.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return e.Entity + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// CapacityExceededError возвращается, если в туре не хватает мест.
type CapacityExceededError struct {
	Remaining int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("not enough seats, only %d left", e.Remaining)
}

func (e *CapacityExceededError) Is(target error) bool { return target == ErrCapacityExceeded }

// ConflictError сообщает, что операция недопустима в текущем состоянии.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string        { return e.Msg }
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// SignatureInvalidError сообщает, что подпись обратного вызова шлюза не сошлась.
type SignatureInvalidError struct {
	Provider string
}

func (e *SignatureInvalidError) Error() string {
	return e.Provider + ": invalid signature"
}

func (e *SignatureInvalidError) Is(target error) bool { return target == ErrSignatureInvalid }

// UpstreamGatewayError описывает ошибку вызова платёжного шлюза.
type UpstreamGatewayError struct {
	Provider string
	Err      error
}

func (e *UpstreamGatewayError) Error() string {
	return fmt.Sprintf("%s gateway: %v", e.Provider, e.Err)
}

func (e *UpstreamGatewayError) Unwrap() error        { return e.Err }
func (e *UpstreamGatewayError) Is(target error) bool { return target == ErrUpstreamGateway }
