package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Age      int    `json:"age" validate:"gte=18"`
}

func TestValidateStructSuccess(t *testing.T) {
	require.NoError(t, ValidateStruct(testPayload{
		Username: "alice",
		Email:    "alice@example.com",
		Age:      20,
	}))
}

func TestValidateStructReportsJSONFieldNames(t *testing.T) {
	err := ValidateStruct(testPayload{Email: "invalid", Age: 10})
	require.Error(t, err)

	var fieldErrs FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	require.Len(t, fieldErrs, 3)

	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Field)
	}
	require.ElementsMatch(t, []string{"username", "email", "age"}, fields)
	require.Contains(t, err.Error(), "age failed on gte=18")
}

func TestValidateStructPassesThroughNonRuleErrors(t *testing.T) {
	err := ValidateStruct("not a struct")
	require.Error(t, err)

	var fieldErrs FieldErrors
	require.False(t, errors.As(err, &fieldErrs))
}
