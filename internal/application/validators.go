package application

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// newValidator returns a validator with the custom tags used by
// EngineConfig registered.
func newValidator() (*validator.Validate, error) {
	v := validator.New()

	if err := v.RegisterValidation("modelname", validateModelName); err != nil {
		return nil, fmt.Errorf("failed to register modelname validator: %w", err)
	}
	if err := v.RegisterValidation("semver", validateSemver); err != nil {
		return nil, fmt.Errorf("failed to register semver validator: %w", err)
	}

	return v, nil
}

// validateModelName accepts "model" or "provider/model". The provider is
// lowercase alphanumeric; the model may also contain '-', '_', '.' and ':'.
func validateModelName(fl validator.FieldLevel) bool {
	spec := fl.Field().String()
	if spec == "" {
		return true
	}

	provider, model, hasProvider := strings.Cut(spec, "/")
	if !hasProvider {
		return validModelPart(spec)
	}

	if provider == "" || model == "" {
		return false
	}
	for _, ch := range provider {
		if !(ch >= 'a' && ch <= 'z' || ch >= '0' && ch <= '9') {
			return false
		}
	}
	return validModelPart(model)
}

func validModelPart(s string) bool {
	for _, ch := range s {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '-', ch == '_', ch == '.', ch == ':':
		default:
			return false
		}
	}
	return s != ""
}

// validateSemver accepts X.Y.Z with non-negative integer parts.
func validateSemver(fl validator.FieldLevel) bool {
	var major, minor, patch int
	var rest string
	n, _ := fmt.Sscanf(fl.Field().String(), "%d.%d.%d%s", &major, &minor, &patch, &rest)
	return n == 3 && major >= 0 && minor >= 0 && patch >= 0
}
