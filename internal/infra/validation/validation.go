// Package validation проверяет входные данные по тегам validate.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"fact-feed/internal/domain"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// Validator возвращает общий экземпляр валидатора. Поля в ошибках
// называются по json-тегам.
func Validator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// Struct проверяет структуру и оборачивает нарушения в domain.ErrValidation.
func Struct(v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, describe(fe))
	}
	return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(parts, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + ": обязательное поле"
	case "uuid":
		return fe.Field() + ": ожидается uuid"
	case "max":
		return fmt.Sprintf("%s: не длиннее %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s: не короче %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s: нарушено правило %s", fe.Field(), fe.Tag())
	}
}
