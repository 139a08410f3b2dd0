package validator

import "github.com/go-playground/validator/v10"

func registerFn(tag string, fn func(fl validator.FieldLevel) bool) func(v *validator.Validate) {
	return func(v *validator.Validate) {
		_ = v.RegisterValidation(tag, fn)
	}
}

func NewAnswerValidationRules() []ValidationRule {
	return []ValidationRule{
		{
			Rule: registerFn("prompt_id", promptIDValidator),
		},
	}
}

func NewRunValidationRules() []ValidationRule {
	return []ValidationRule{
		{
			Rule: registerFn("rounding_mode", roundingModeValidator),
		},
		{
			Rule: registerFn("iso_date", isoDateValidator),
		},
	}
}
