package mediarpc

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Val validates struct params and results. Field errors are reported by
// their JSON names.
var Val = newValidator()

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

// validateIfStruct validates v when it is a struct or a pointer to one.
// Other values, including nil, pass.
func validateIfStruct(v any) error {
	if err := Val.Struct(v); err != nil {
		var valErr *validator.InvalidValidationError
		if errors.As(err, &valErr) {
			return nil
		}
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}
