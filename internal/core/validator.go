package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"ticketing/internal/types"
)

// Validator wraps go-playground/validator and maps failures to AppErrors.
// Field names in errors use the json tag.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers the custom tags.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
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
	_ = v.RegisterValidation("scan_token", func(fl validator.FieldLevel) bool {
		return strings.HasPrefix(fl.Field().String(), "tk_")
	})
	return &Validator{validate: v, logger: logger}
}

// ValidateStruct returns nil or a validation AppError whose details list the
// failing fields and the rule each one broke.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		v.logger.Error("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	fields := make(map[string]any, len(verrs))
	code := types.ErrCodeValidationMissingField
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
		if fe.Tag() != "required" {
			code = types.ErrCodeValidationMalformedPayload
		}
	}
	return types.NewAppErrorWithDetails(code, "request validation failed", nil, map[string]any{"fields": fields})
}
