package host

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the shared validator. It caches struct metadata, so
// one instance serves every call.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateHost trims the name and checks h before it is stored.
func ValidateHost(h *Host) error {
	h.Name = strings.TrimSpace(h.Name)
	return validateStruct(h, ErrInvalidHost)
}

// ValidateGrid checks the owner and the board dimensions before g is stored.
func ValidateGrid(g *Grid) error {
	return validateStruct(g, ErrInvalidGrid)
}

func validateStruct(s any, sentinel error) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", sentinel, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", sentinel, strings.Join(msgs, "; "))
}

// describe renders a field error using the JSON-facing field names.
func describe(fe validator.FieldError) string {
	field := jsonName(fe.Namespace())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "uuid":
		return field + " must be a valid id"
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, fe.Param())
	case "max":
		if fe.Kind().String() == "string" {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must have at most %s entries", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

var jsonNames = strings.NewReplacer(
	"Grid.", "", "Host.", "",
	"Cells", "grid", "Owner", "owner", "Name", "name",
	"Value", "value", "Color", "color",
)

func jsonName(namespace string) string {
	return jsonNames.Replace(namespace)
}
