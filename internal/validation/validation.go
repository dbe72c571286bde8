// Package validation содержит разбор и проверку входных данных HTTP API.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvalidIdempotencyKey возвращается для отсутствующего или некорректного ключа идемпотентности.
var ErrInvalidIdempotencyKey = errors.New("idempotency key must be a non-nil UUID")

// Error описывает ошибку валидации с сообщениями по полям.
type Error struct {
	Message string            `json:"error"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+e.Fields[name])
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		d, ok := field.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		return d.InexactFloat64()
	}, decimal.Decimal{})
	return v
}

// DecodeJSON читает JSON из r в dest и проверяет теги validate.
// Неизвестные поля считаются ошибкой.
func DecodeJSON(r io.Reader, dest any) error {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return &Error{Message: fmt.Sprintf("invalid request body: %v", err)}
	}
	return Struct(dest)
}

// Struct проверяет теги validate структуры.
func Struct(v any) error {
	if err := validate.Struct(v); err != nil {
		return formatErrors(err)
	}
	return nil
}

func formatErrors(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return &Error{Message: "validation failed: " + err.Error()}
	}

	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		fields[fe.Field()] = message(fe)
	}
	return &Error{Message: "validation failed", Fields: fields}
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "printascii":
		return "must contain printable ASCII characters only"
	}
	return "is invalid"
}

// ParseIdempotencyKey разбирает значение заголовка Idempotency-Key.
func ParseIdempotencyKey(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, ErrInvalidIdempotencyKey
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ErrInvalidIdempotencyKey
	}
	return id, nil
}
