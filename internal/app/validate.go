package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"rating_store/internal/domain"
)

// DefaultMaxRating is the top of the rating scale when none is configured.
const DefaultMaxRating = 5

// NewValidator returns a validator that knows the "maxrating" tag.
func NewValidator(maxRating int) *validator.Validate {
	if maxRating <= 0 {
		maxRating = DefaultMaxRating
	}
	v := validator.New()
	_ = v.RegisterValidation("maxrating", func(fl validator.FieldLevel) bool {
		return fl.Field().Int() <= int64(maxRating)
	})
	return v
}

// validateStruct wraps field errors in domain.ErrValidation.
func validateStruct(v *validator.Validate, s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s(%s)", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(fields, ", "))
}
