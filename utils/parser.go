package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vitwit/greendish/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validators
	_ = validate.RegisterValidation("minprice", validateMinPriceTag)
	_ = validate.RegisterValidation("ethaddr", validateAddressTag)
}

// ValidateStruct runs struct tag validation and reports failures as a
// GreenDishError with the given code.
func ValidateStruct(v any, code string) error {
	if err := validate.Struct(v); err != nil {
		return &types.GreenDishError{
			Code:    code,
			Message: fmt.Sprintf("validation failed: %s", describe(err)),
			Err:     err,
		}
	}
	return nil
}

// ParseRegistration parses and validates a RestaurantRegistration from JSON
func ParseRegistration(data []byte) (*types.RestaurantRegistration, error) {
	var reg types.RestaurantRegistration

	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, &types.GreenDishError{
			Code:    types.ErrInvalidRegistration,
			Message: fmt.Sprintf("failed to parse registration: %v", err),
		}
	}

	if err := ValidateStruct(&reg, types.ErrInvalidRegistration); err != nil {
		return nil, err
	}

	return &reg, nil
}

// ParseChainID accepts a decimal or 0x-prefixed hex chain id.
func ParseChainID(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

func validateMinPriceTag(fl validator.FieldLevel) bool {
	return ValidatePrice(fl.Field().String()) == nil
}

func validateAddressTag(fl validator.FieldLevel) bool {
	return ValidateAddress(fl.Field().String()) == nil
}

// describe flattens validator errors into "Field: tag" pairs.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
