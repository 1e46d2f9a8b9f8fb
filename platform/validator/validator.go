// Package validator provides validation infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package validator

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	postcodePattern = regexp.MustCompile(`^\d{4}$`)
	auStates        = map[string]struct{}{
		"NSW": {}, "VIC": {}, "QLD": {}, "SA": {}, "WA": {}, "TAS": {}, "NT": {}, "ACT": {},
	}
)

// Validator wraps the go-playground validator for structured validation.
type Validator struct {
	v *validator.Validate
}

// New creates a Validator with the engine's custom rules registered:
// au_state (NSW, VIC, ...) and au_postcode (four digits).
func New() *Validator {
	v := validator.New()
	_ = v.RegisterValidation("au_state", func(fl validator.FieldLevel) bool {
		_, ok := auStates[fl.Field().String()]
		return ok
	})
	_ = v.RegisterValidation("au_postcode", func(fl validator.FieldLevel) bool {
		return postcodePattern.MatchString(fl.Field().String())
	})
	return &Validator{v: v}
}

// Struct validates a struct based on validation tags.
func (val *Validator) Struct(s any) error {
	return val.v.Struct(s)
}

// Var validates a single variable against a tag.
func (val *Validator) Var(field any, tag string) error {
	return val.v.Var(field, tag)
}

// RegisterValidation registers a custom validation function.
func (val *Validator) RegisterValidation(tag string, fn validator.Func) error {
	return val.v.RegisterValidation(tag, fn)
}
