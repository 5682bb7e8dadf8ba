package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mikepea/cookbook/pkg/cookbook/apperror"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct runs the struct tags and converts the first failure into a
// validation error naming the offending field.
func validateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperror.ValidationFailed("", err.Error())
	}

	fe := verrs[0]
	return apperror.ValidationFailed(fieldPath(fe.Namespace()), message(fe))
}

// validateVar checks a single value against tag, reporting failures as field
func validateVar(field string, value interface{}, tag string) error {
	err := validate.Var(value, tag)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperror.ValidationFailed(field, err.Error())
	}
	return apperror.ValidationFailed(field, message(verrs[0]))
}

// fieldPath drops the root struct name: "RecipeInput.tags[0].name" -> "tags[0].name"
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "max":
		return fmt.Sprintf("Ensure this field has no more than %s characters.", fe.Param())
	case "min":
		return fmt.Sprintf("Ensure this value is greater than or equal to %s.", fe.Param())
	case "url":
		return "Enter a valid URL."
	default:
		return fmt.Sprintf("Failed on the '%s' rule.", fe.Tag())
	}
}

var maxPrice = decimal.NewFromInt(1000)

// validatePrice enforces decimal(5,2): non-negative, two places, below 1000
func validatePrice(p decimal.Decimal) error {
	switch {
	case p.IsNegative():
		return apperror.ValidationFailed("price", "Ensure this value is greater than or equal to 0.")
	case !p.Equal(p.Round(2)):
		return apperror.ValidationFailed("price", "Ensure that there are no more than 2 decimal places.")
	case p.GreaterThanOrEqual(maxPrice):
		return apperror.ValidationFailed("price", "Ensure that there are no more than 5 digits in total.")
	}
	return nil
}
