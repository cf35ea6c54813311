package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var ErrValidationFailed = fmt.Errorf("validation failed")

const (
	DefaultMaxStringLength = 255
	MaxCurrencyCodeLength  = 3
	MaxDescriptionLength   = 1024
	MaxTypeCodeLength      = 20
	MinPasswordLength      = 8
	MaxPasswordLength      = 128
)

// --- String Validators ---

// ValidateStringNotEmpty checks if a string is not empty after trimming.
func ValidateStringNotEmpty(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrValidationFailed, fieldName)
	}
	return nil
}

// ValidateStringMaxLength checks if a string's UTF-8 character count is within max bounds.
func ValidateStringMaxLength(s string, maxLength int, fieldName string) error {
	if utf8.RuneCountInString(s) > maxLength {
		return fmt.Errorf("%w: %s exceeds maximum length of %d characters", ErrValidationFailed, fieldName, maxLength)
	}
	return nil
}

// ValidateStringLength checks min <= rune count <= max.
func ValidateStringLength(s string, minLength, maxLength int, fieldName string) error {
	n := utf8.RuneCountInString(s)
	if n < minLength || n > maxLength {
		return fmt.Errorf("%w: %s must be between %d and %d characters", ErrValidationFailed, fieldName, minLength, maxLength)
	}
	return nil
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// ValidateEmail checks the general shape of an email address.
func ValidateEmail(s string) error {
	if err := ValidateStringNotEmpty(s, "email"); err != nil {
		return err
	}
	if err := ValidateStringMaxLength(s, DefaultMaxStringLength, "email"); err != nil {
		return err
	}
	if !emailRegex.MatchString(s) {
		return fmt.Errorf("%w: invalid email format", ErrValidationFailed)
	}
	return nil
}

// --- Numeric Validators ---

// ValidatePositiveDecimal rejects zero and negative values.
func ValidatePositiveDecimal(d decimal.Decimal, fieldName string) error {
	if !d.IsPositive() {
		return fmt.Errorf("%w: %s must be greater than zero", ErrValidationFailed, fieldName)
	}
	return nil
}

// --- Date Validator ---

// ValidateDate checks that s is a calendar date in YYYY-MM-DD form.
func ValidateDate(s, fieldName string) error {
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return fmt.Errorf("%w: %s ('%s') must be a valid date in YYYY-MM-DD format", ErrValidationFailed, fieldName, s)
	}
	return nil
}

// --- Specific Format Validators ---

var currencyCodeRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// ValidateCurrencyCode checks if currency code is 3 uppercase letters.
func ValidateCurrencyCode(s, fieldName string) error {
	if !currencyCodeRegex.MatchString(s) {
		return fmt.Errorf("%w: %s ('%s') must be a 3-letter ISO currency code", ErrValidationFailed, fieldName, s)
	}
	return nil
}
