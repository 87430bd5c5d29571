package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	return v
}

// ReadAndValidateRequest fills `default` tags, binds the request over them and
// runs `validate` tags. Fields present in the request keep their value, zero
// included. It returns nil when req is usable.
func ReadAndValidateRequest(c echo.Context, req interface{}) []FieldError {
	if err := defaults.Set(req); err != nil {
		return toFieldErrors(err)
	}
	if err := c.Bind(req); err != nil {
		return toFieldErrors(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return toFieldErrors(err)
	}
	return nil
}

func toFieldErrors(err error) []FieldError {
	var ves validator.ValidationErrors
	if errors.As(err, &ves) {
		out := make([]FieldError, len(ves))
		for i, fe := range ves {
			out[i] = FieldError{
				Code:    ErrorCode("ERR_" + strings.ToUpper(fe.Tag())),
				Field:   fieldPath(fe),
				Message: describe(fe),
				Params:  tagParams(fe),
			}
		}
		return out
	}

	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprint(he.Message)
	}
	return []FieldError{{Code: CodeUnknown, Message: msg}}
}

// fieldPath is the namespace without the root struct, e.g. "criteria.max_patterns".
func fieldPath(fe validator.FieldError) string {
	_, rest, found := strings.Cut(fe.Namespace(), ".")
	if !found {
		return fe.Namespace()
	}
	return rest
}

var tagPhrases = map[string]string{
	"gt":  "greater than",
	"gte": "greater than or equal to",
	"lt":  "less than",
	"lte": "less than or equal to",
}

func describe(fe validator.FieldError) string {
	field := fieldPath(fe)
	unit := ""
	if fe.Kind() == reflect.String {
		unit = " characters"
	} else if fe.Kind() == reflect.Slice {
		unit = " items"
	}

	switch tag := fe.Tag(); tag {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s%s", field, fe.Param(), unit)
	case "max":
		return fmt.Sprintf("%s must be at most %s%s", field, fe.Param(), unit)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.Join(strings.Fields(fe.Param()), ", "))
	default:
		if phrase, ok := tagPhrases[tag]; ok {
			return fmt.Sprintf("%s must be %s %s", field, phrase, fe.Param())
		}
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}

func tagParams(fe validator.FieldError) map[string]interface{} {
	switch fe.Tag() {
	case "min", "gte":
		return map[string]interface{}{"min": fe.Param()}
	case "max", "lte":
		return map[string]interface{}{"max": fe.Param()}
	case "gt", "lt":
		return map[string]interface{}{"value": fe.Param()}
	case "oneof":
		return map[string]interface{}{"options": strings.Fields(fe.Param())}
	}
	return nil
}
