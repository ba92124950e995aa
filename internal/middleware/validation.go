package middleware

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// nocontrol rejects strings holding control characters such as NUL.
	_ = v.RegisterValidation("nocontrol", func(fl validator.FieldLevel) bool {
		return !strings.ContainsFunc(fl.Field().String(), unicode.IsControl)
	})
	return v
}

// Validate checks v against its validate struct tags and flattens the failures
// into a client-facing message.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// ValidateConversationID validates a conversation ID taken from a URL.
func ValidateConversationID(id string) error {
	if err := validate.Var(id, "required,max=128,excludesall=/?#,nocontrol"); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateUsername validates a username taken from a URL.
func ValidateUsername(username string) error {
	if err := validate.Var(username, "required,max=254,nocontrol"); err != nil {
		return errors.New("invalid username format")
	}
	return nil
}
