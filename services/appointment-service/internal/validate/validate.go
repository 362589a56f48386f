// Package validate checks appointment requests for syntactic and semantic
// well-formedness. All field errors are collected in one pass so a caller
// can render every problem at once.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cvaldebenito/vetbook/services/appointment-service/internal/model"
)

// Request is the inbound appointment payload shared by create and update.
type Request struct {
	PetID        string `json:"pet_id" validate:"required,min=2,max=50"`
	Date         string `json:"date" validate:"required,dateymd"`
	TimeOfDay    string `json:"time" validate:"omitempty,clock24"`
	Reason       string `json:"reason" validate:"required,min=2,max=500"`
	ContactEmail string `json:"contact_email" validate:"required,email"`
	Status       string `json:"status" validate:"omitempty,apptstatus"`
}

// Machine-checkable reason codes attached to field errors.
const (
	CodeRequired       = "required"
	CodeTooShort       = "too_short"
	CodeTooLong        = "too_long"
	CodeBadFormat      = "bad_format"
	CodeBadEmail       = "bad_email"
	CodeBadStatus      = "bad_status"
	CodeNotFuture      = "not_future"
	CodeProhibitedTerm = "prohibited_term"
	CodeUnknownPet     = "unknown_pet"
)

type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error aggregates every field failure found in a request.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Has reports whether the error carries the given field/code pair.
func (e *Error) Has(field, code string) bool {
	for _, f := range e.Fields {
		if f.Field == field && f.Code == code {
			return true
		}
	}
	return false
}

// Rules select the semantic checks that depend on the operation.
type Rules struct {
	// RequireFutureDate rejects dates not strictly after today. Always on
	// for create; configurable for update.
	RequireFutureDate bool
}

type Validator struct {
	v   *validator.Validate
	now func() time.Time
}

func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("dateymd", isDateYMD)
	_ = v.RegisterValidation("clock24", isClock24)
	_ = v.RegisterValidation("apptstatus", isStatus)
	return &Validator{v: v, now: time.Now}
}

// Validate returns nil for a well-formed request, otherwise an *Error
// holding every failed field.
func (vd *Validator) Validate(req *Request, rules Rules) *Error {
	var fields []FieldError

	if err := vd.v.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields = append(fields, fieldError(fe))
			}
		} else {
			fields = append(fields, FieldError{Field: "request", Code: CodeBadFormat, Message: "malformed request"})
		}
	}

	// Semantic rules run only when the fields they read passed shape checks.
	if rules.RequireFutureDate && !hasField(fields, "date") {
		if d, err := time.Parse(model.DateLayout, req.Date); err == nil {
			today := vd.now().UTC().Truncate(24 * time.Hour)
			if !d.After(today) {
				fields = append(fields, FieldError{
					Field:   "date",
					Code:    CodeNotFuture,
					Message: "date must be strictly after the current date",
				})
			}
		}
	}
	if !hasField(fields, "reason") {
		if tok, ok := prohibitedToken(req.Reason); ok {
			fields = append(fields, FieldError{
				Field:   "reason",
				Code:    CodeProhibitedTerm,
				Message: fmt.Sprintf("reason contains a prohibited term: %s", tok),
			})
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return &Error{Fields: fields}
}

var dateYMDRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

func isDateYMD(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if !dateYMDRe.MatchString(s) {
		return false
	}
	// time.Parse is lenient about zero padding; the regexp above pins the
	// shape, Parse rejects impossible dates like 2025-02-30.
	_, err := time.Parse(model.DateLayout, s)
	return err == nil
}

var clock24Re = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

func isClock24(fl validator.FieldLevel) bool {
	return clock24Re.MatchString(fl.Field().String())
}

func isStatus(fl validator.FieldLevel) bool {
	_, ok := model.ParseStatus(fl.Field().String())
	return ok
}

// prohibitedToken returns the first whitespace-delimited token of reason
// that matches the deny-list, case-insensitively.
func prohibitedToken(reason string) (string, bool) {
	for _, tok := range strings.Fields(reason) {
		if _, ok := prohibitedTerms[strings.ToLower(tok)]; ok {
			return tok, true
		}
	}
	return "", false
}

func hasField(fields []FieldError, name string) bool {
	for _, f := range fields {
		if f.Field == name {
			return true
		}
	}
	return false
}

func fieldError(fe validator.FieldError) FieldError {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return FieldError{Field: field, Code: CodeRequired, Message: field + " is required"}
	case "min":
		return FieldError{Field: field, Code: CodeTooShort, Message: fmt.Sprintf("%s must be at least %s characters", field, fe.Param())}
	case "max":
		return FieldError{Field: field, Code: CodeTooLong, Message: fmt.Sprintf("%s must be at most %s characters", field, fe.Param())}
	case "email":
		return FieldError{Field: field, Code: CodeBadEmail, Message: field + " must be a valid email address"}
	case "dateymd":
		return FieldError{Field: field, Code: CodeBadFormat, Message: field + " must be a real date in YYYY-MM-DD format"}
	case "clock24":
		return FieldError{Field: field, Code: CodeBadFormat, Message: field + " must be a time in HH:MM format"}
	case "apptstatus":
		return FieldError{Field: field, Code: CodeBadStatus, Message: field + " must be a known appointment status"}
	default:
		return FieldError{Field: field, Code: CodeBadFormat, Message: field + " is invalid"}
	}
}
