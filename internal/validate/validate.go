// Package validate checks request bodies and generated payloads against
// their struct tags.
package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/arnold/goalcoach-api/internal/models"
)

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New(validator.WithRequiredStructEnabled())
	val.RegisterStructValidation(questionOptionInRange, models.Question{})
	return val
}

func questionOptionInRange(sl validator.StructLevel) {
	q := sl.Current().Interface().(models.Question)
	if q.CorrectOption < 0 || q.CorrectOption >= len(q.Options) {
		sl.ReportError(q.CorrectOption, "CorrectOption", "correctOption", "optionindex", "")
	}
}

// Struct validates s and returns an error whose message names the failing
// fields.
func Struct(s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	case "optionindex":
		return fmt.Sprintf("%s must index one of the options", field)
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
