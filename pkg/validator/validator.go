package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	playground "github.com/go-playground/validator/v10"

	apperrors "github.com/jwalitptl/massage-booking/pkg/errors"
)

// Validator provides validation functionality
type Validator interface {
	Validate(interface{}) error
	ValidateField(field string, value interface{}, rules ...string) error
}

type validator struct {
	v *playground.Validate
}

func New() Validator {
	v := playground.New()
	v.SetTagName("validate")
	// Report json names so messages match the request body.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return &validator{v: v}
}

// Validate returns a BadRequest AppError whose details map field -> failed rule.
func (v *validator) Validate(obj interface{}) error {
	return Translate(v.v.Struct(obj))
}

func (v *validator) ValidateField(field string, value interface{}, rules ...string) error {
	err := v.v.Var(value, strings.Join(rules, ","))
	if err == nil {
		return nil
	}
	var verrs playground.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return apperrors.NewBadRequest(fmt.Sprintf("%s failed %s validation", field, verrs[0].Tag()), nil).
			WithDetails(map[string]interface{}{field: verrs[0].Tag()})
	}
	return apperrors.NewBadRequest(fmt.Sprintf("invalid %s", field), err)
}

// Translate turns validator or request binding errors into a BadRequest.
func Translate(err error) error {
	if err == nil {
		return nil
	}
	var verrs playground.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.NewBadRequest("invalid request", err)
	}

	details := make(map[string]interface{}, len(verrs))
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		details[fe.Field()] = rule
		fields = append(fields, fe.Field())
	}
	return apperrors.NewBadRequest(fmt.Sprintf("invalid fields: %s", strings.Join(fields, ", ")), err).
		WithDetails(details)
}
