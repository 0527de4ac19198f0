// Package validation holds the required-field and email rules shared by the
// form controller and the intake handler. Both layers call Validate
// independently; the server result is the authoritative one.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"alumni-forms/common"
)

// Codes reported in FieldError.Code.
const (
	CodeRequired = "required"
	CodeEmail    = "email"
	CodeOneOf    = "oneof"
)

// local-part@domain.tld with no whitespace (ASCII or Unicode) and no extra @.
var emailShape = regexp.MustCompile(`^[^\s\x{000B}\x{FEFF}\p{Z}@]+@[^\s\x{000B}\x{FEFF}\p{Z}@]+\.[^\s\x{000B}\x{FEFF}\p{Z}@]+$`)

type contactRules struct {
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"required,mailshape"`
	Message string `json:"message" validate:"required"`
}

type participationRules struct {
	Name       string `json:"name" validate:"required"`
	Period     string `json:"period" validate:"required"`
	Email      string `json:"email" validate:"required,mailshape"`
	Attendance string `json:"attendance" validate:"omitempty,oneof=出席 欠席"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	if err := v.RegisterValidation("mailshape", func(fl validator.FieldLevel) bool {
		return IsEmail(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// IsEmail reports whether s, once trimmed, looks like local-part@domain.tld.
func IsEmail(s string) bool {
	return emailShape.MatchString(strings.TrimSpace(s))
}

// FieldError is a single failed rule.
type FieldError struct {
	Field string `json:"field"`
	Code  string `json:"code"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Code) }

// FieldErrors is every rule that failed for one submission, in field order.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, e := range fe {
		parts[i] = e.Error()
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Has reports whether any field failed with code.
func (fe FieldErrors) Has(code string) bool {
	for _, e := range fe {
		if e.Code == code {
			return true
		}
	}
	return false
}

// Fields lists the failing field keys, optionally restricted to one code.
func (fe FieldErrors) Fields(code string) []string {
	var out []string
	for _, e := range fe {
		if code == "" || e.Code == code {
			out = append(out, e.Field)
		}
	}
	return out
}

// Validate checks s without modifying it. Values are trimmed before the
// required and format checks, so whitespace-only input counts as missing.
// It returns nil or a FieldErrors.
func Validate(s common.FormSubmission) error {
	common.Normalize(&s)

	var rules any
	switch s.Kind {
	case common.KindContact:
		rules = contactRules{Name: s.Name, Email: s.Email, Message: s.Message}
	case common.KindParticipation:
		rules = participationRules{Name: s.Name, Period: s.Period, Email: s.Email, Attendance: s.Attendance}
	default:
		return FieldErrors{{Field: "kind", Code: CodeOneOf}}
	}

	err := validate.Struct(rules)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(FieldErrors, 0, len(verrs))
	for _, ve := range verrs {
		code := ve.Tag()
		if code == "mailshape" {
			code = CodeEmail
		}
		out = append(out, FieldError{Field: ve.Field(), Code: code})
	}
	return out
}
