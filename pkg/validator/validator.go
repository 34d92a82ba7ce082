package validator

import (
	"fmt"

	playground "github.com/go-playground/validator/v10"
)

// Validator checks struct fields against their `validate` tags.
type Validator interface {
	Validate(interface{}) error
}

type validator struct {
	v *playground.Validate
}

func New() Validator {
	return &validator{v: playground.New()}
}

func (val *validator) Validate(obj interface{}) error {
	err := val.v.Struct(obj)
	if err == nil {
		return nil
	}
	if fieldErrs, ok := err.(playground.ValidationErrors); ok && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return fmt.Errorf("%s failed %q validation", fe.Namespace(), fe.Tag())
	}
	return err
}
