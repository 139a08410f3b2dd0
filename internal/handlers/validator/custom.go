package validator

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/expenseops/expense-validator/internal/expense"
	"github.com/expenseops/expense-validator/internal/prompts"
)

func promptIDValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}

	_, err := prompts.ParseID(val)
	return err == nil
}

func roundingModeValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}

	switch val {
	case "", string(expense.RoundingCents), string(expense.RoundingWhole):
		return true
	default:
		return false
	}
}

func isoDateValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}

	if val == "" {
		return true
	}

	_, err := time.Parse("2006-01-02", val)
	return err == nil
}
