package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// FieldError describes one failed rule on one field, keyed by the field's
// JSON name so it can be returned to API clients as-is.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// FieldErrors is the error type ValidateStruct returns for rule failures.
type FieldErrors []FieldError

func (e FieldErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}

	var b strings.Builder
	for i, fe := range e {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(fe.Field)
		b.WriteString(" failed on ")
		b.WriteString(fe.Rule)
		if fe.Param != "" {
			b.WriteString("=")
			b.WriteString(fe.Param)
		}
	}
	return b.String()
}

var instance = sync.OnceValue(func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(jsonFieldName)
	return v
})

// ValidateStruct runs the validate tags on s and converts failures into
// FieldErrors. Non-rule errors (for example passing a non-struct) come
// back unchanged.
func ValidateStruct(s any) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}

	var ruleErrs validator.ValidationErrors
	if !errors.As(err, &ruleErrs) {
		return err
	}

	out := make(FieldErrors, 0, len(ruleErrs))
	for _, fe := range ruleErrs {
		out = append(out, FieldError{
			Field: fe.Field(),
			Rule:  fe.Tag(),
			Param: fe.Param(),
		})
	}
	return out
}

// jsonFieldName reports the name a field carries on the wire, falling back
// to the Go field name when no json tag is present.
func jsonFieldName(fld reflect.StructField) string {
	tag := fld.Tag.Get("json")
	if tag == "" || tag == "-" {
		return fld.Name
	}
	if comma := strings.Index(tag, ","); comma != -1 {
		tag = tag[:comma]
	}
	if tag == "" {
		return fld.Name
	}
	return tag
}
