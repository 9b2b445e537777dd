// Package forms parses and validates the auth page forms before any
// provider call is made.
package forms

import (
	"errors"
	"net/url"

	"github.com/go-playground/validator/v10"
)

const (
	MsgFillAllFields = "Please fill in all fields"
	MsgPasswordShort = "Password must be at least 6 characters"
	MsgEmailRequired = "Please enter your email address"
)

// ValidationError is a local, user-facing form error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

var validate = validator.New()

type SignIn struct {
	Email    string `form:"email" validate:"required"`
	Password string `form:"password" validate:"required"`
}

type SignUp struct {
	Email    string `form:"email" validate:"required"`
	Password string `form:"password" validate:"required,min=6"`
}

type Reset struct {
	Email string `form:"email" validate:"required"`
}

func ParseSignIn(v url.Values) (SignIn, error) {
	f := SignIn{Email: v.Get("email"), Password: v.Get("password")}
	return f, check(f, MsgFillAllFields)
}

func ParseSignUp(v url.Values) (SignUp, error) {
	f := SignUp{Email: v.Get("email"), Password: v.Get("password")}
	return f, check(f, MsgFillAllFields)
}

func ParseReset(v url.Values) (Reset, error) {
	f := Reset{Email: v.Get("email")}
	return f, check(f, MsgEmailRequired)
}

// check runs the struct tags. A missing field wins over any other failure.
func check(form any, requiredMsg string) error {
	err := validate.Struct(form)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			return &ValidationError{Field: fe.Field(), Message: requiredMsg}
		}
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "min":
		return &ValidationError{Field: fe.Field(), Message: MsgPasswordShort}
	default:
		return &ValidationError{Field: fe.Field(), Message: fe.Error()}
	}
}

// Message returns the user-facing text of a validation error, or "".
func Message(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	return ""
}
