// Package validation runs go-playground/validator struct tags and reports
// failures as taskflow validation errors named after the JSON fields.
package validation

import (
	"errors"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	errspkg "github.com/drblury/taskflow/internal/runtime/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Struct validates v. Every failing field is listed in the returned error,
// which matches errors.ErrValidation.
func Struct(op string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errspkg.Validationf(op, err)
	}

	fields := make([]string, 0, len(verrs))
	required := true
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
		if fe.Tag() != "required" {
			required = false
		}
	}
	sort.Strings(fields)

	msg := "is invalid"
	if required {
		msg = "is required"
	}
	return errspkg.Validation(op, strings.Join(fields, ", "), msg)
}
