// Package validate plugs go-playground/validator into echo and reports
// failures as apperr validation errors.
package validate

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/codeDulan/Dispensary-Management-System/internal/platform/apperr"
)

// CodeInvalidInput is the error code for malformed or invalid request bodies.
const CodeInvalidInput = "INVALID_INPUT"

var tagMessages = map[string]string{
	"required":  "is required",
	"min":       "must be at least %s",
	"max":       "must be at most %s",
	"gt":        "must be greater than %s",
	"gte":       "must be greater than or equal to %s",
	"oneof":     "must be one of: %s",
	"uuid":      "must be a valid UUID",
	"email":     "must be a valid email address",
	"date":      "must be a date in YYYY-MM-DD format",
	"clocktime": "must be a time in HH:MM format",
}

// Validator implements echo.Validator.
type Validator struct {
	v *validator.Validate
}

// New creates a Validator that reports JSON field names.
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("date", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(time.DateOnly, fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("clocktime", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if _, err := time.Parse("15:04", s); err == nil {
			return true
		}
		_, err := time.Parse(time.TimeOnly, s)
		return err == nil
	})
	return &Validator{v: v}
}

// Validate checks the struct tags of i.
func (cv *Validator) Validate(i interface{}) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation(CodeInvalidInput, "invalid request: %v", err)
	}
	return apperr.Validation(CodeInvalidInput, "%s", formatErrors(verrs))
}

func formatErrors(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg, ok := tagMessages[fe.Tag()]
		if !ok {
			msg = "is invalid"
		}
		if strings.Contains(msg, "%s") {
			param := fe.Param()
			if fe.Tag() == "oneof" {
				param = strings.Join(strings.Fields(param), ", ")
			}
			msg = strings.Replace(msg, "%s", param, 1)
		}
		parts = append(parts, fe.Field()+" "+msg)
	}
	return strings.Join(parts, "; ")
}

// Bind decodes the request into dst and validates it.
func Bind(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return apperr.Validation(CodeInvalidInput, "invalid request body")
	}
	if err := c.Validate(dst); err != nil {
		return err
	}
	return nil
}
