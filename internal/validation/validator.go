package validation

import (
	"regexp"

	"github.com/go-playground/validator/v10"

	"funnel-service/internal/util"
)

// Result is the outcome of a validation check. Validators never return
// Go errors to callers; a failed check carries a human-readable message
// instead.
type Result struct {
	Valid   bool
	Message string
}

var (
	validate  = validator.New()
	nameRegex = regexp.MustCompile(`^[a-zA-Z .'-]+$`)
)

func ok() Result {
	return Result{Valid: true}
}

func fail(message string) Result {
	return Result{Valid: false, Message: message}
}

// Sanitize strips markup-significant characters and trims whitespace.
func Sanitize(s string) string {
	return util.Sanitize(s)
}

// ValidatePhone checks that the sanitized input is 10 to 15 ASCII
// digits.
func ValidatePhone(phone string) Result {
	phone = Sanitize(phone)
	if len(phone) == 0 {
		return fail("Phone number is required")
	}
	if !digitsOnly(phone) {
		return fail("Phone number must contain only digits")
	}
	if len(phone) < 10 {
		return fail("Phone number must be at least 10 digits")
	}
	if len(phone) > 15 {
		return fail("Phone number must not exceed 15 digits")
	}
	return ok()
}

// ValidateEmail checks for a syntactically valid address of 5 to 254
// characters.
func ValidateEmail(email string) Result {
	email = Sanitize(email)
	if len(email) < 5 {
		return fail("Email must be at least 5 characters")
	}
	if len(email) > 254 {
		return fail("Email must not exceed 254 characters")
	}
	if err := validate.Var(email, "email"); err != nil {
		return fail("Please enter a valid email address")
	}
	return ok()
}

// ValidateName checks for 2 to 100 characters restricted to letters,
// spaces, dots, apostrophes, and hyphens.
func ValidateName(name string) Result {
	name = Sanitize(name)
	if len(name) < 2 {
		return fail("Name must be at least 2 characters")
	}
	if len(name) > 100 {
		return fail("Name must not exceed 100 characters")
	}
	if !nameRegex.MatchString(name) {
		return fail("Name can only contain letters, spaces, dots, apostrophes, and hyphens")
	}
	return ok()
}

// ValidateOTP checks for exactly 4 digits.
func ValidateOTP(otp string) Result {
	otp = Sanitize(otp)
	if len(otp) != 4 {
		return fail("OTP must be exactly 4 digits")
	}
	if !digitsOnly(otp) {
		return fail("OTP must contain only digits")
	}
	return ok()
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
