package crypto

import (
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

const specialChars = `!@#$%^&*(),.?":{}|<>`

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// PasswordReport is the policy verdict for a candidate password.
// Failed lists the human-readable rules that did not hold.
type PasswordReport struct {
	Valid    bool
	Failed   []string
	Strength string
}

// ValidatePassword applies the account password policy: at least 8
// characters with one upper, one lower, one digit and one special
// character. Strength is weak when 3 or more rules fail, medium when
// any fail, strong when all pass.
func ValidatePassword(password string) PasswordReport {
	var failed []string
	if len(password) < 8 {
		failed = append(failed, "at least 8 characters")
	}
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(specialChars, r):
			special = true
		}
	}
	if !upper {
		failed = append(failed, "one uppercase letter")
	}
	if !lower {
		failed = append(failed, "one lowercase letter")
	}
	if !digit {
		failed = append(failed, "one digit")
	}
	if !special {
		failed = append(failed, `one special character (`+specialChars+`)`)
	}

	strength := "strong"
	switch {
	case len(failed) >= 3:
		strength = "weak"
	case len(failed) >= 1:
		strength = "medium"
	}
	return PasswordReport{Valid: len(failed) == 0, Failed: failed, Strength: strength}
}
