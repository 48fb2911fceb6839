package core

import (
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"vitalog/internal/types"
)

// Validator wraps go-playground/validator and translates its failures
// into client-facing validation errors.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator with the domain rules registered.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New()

	// Tag names in error details follow the json tag, not the Go field.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct checks the struct against its validate tags. On
// failure it returns a 400 AppError whose details map field names to
// the violated rule.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return types.NewAppError(types.ErrCodeInternal, "validation failed", err)
	}

	details := make(map[string]any, len(validationErrs))
	for _, fe := range validationErrs {
		details[fe.Field()] = fe.Tag()
	}

	return types.NewValidationError(
		types.ErrCodeMissingField,
		"request failed validation",
		details,
	)
}
