// Package validation adapts go-playground/validator to echo's
// Validator interface so handlers can validate bound request DTOs.
package validation

import "github.com/go-playground/validator/v10"

type RequestValidator struct {
	check *validator.Validate
}

func New() *RequestValidator {
	return &RequestValidator{check: validator.New()}
}

func (rv *RequestValidator) Validate(i any) error {
	return rv.check.Struct(i)
}
