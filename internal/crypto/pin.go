package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrPinFormat     = errors.New("pin must be exactly 4 digits")
	ErrPinSequential = errors.New("pin must not be a sequential pattern")
	ErrPinRepeated   = errors.New("pin must not repeat a single digit")
	ErrTempPinFormat = errors.New("temporary pin must be exactly 6 digits")
)

// ValidatePin enforces the permanent 4-digit PIN rules: decimal digits
// only, no ascending or descending runs, no single repeated digit.
func ValidatePin(pin string) error {
	if len(pin) != 4 {
		return ErrPinFormat
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return ErrPinFormat
		}
	}
	asc, desc, same := true, true, true
	for i := 1; i < 4; i++ {
		if pin[i] != pin[i-1]+1 {
			asc = false
		}
		if pin[i] != pin[i-1]-1 {
			desc = false
		}
		if pin[i] != pin[i-1] {
			same = false
		}
	}
	if same {
		return ErrPinRepeated
	}
	if asc || desc {
		return ErrPinSequential
	}
	return nil
}

// ValidateTempPin checks the 6-digit temporary PIN shape.
func ValidateTempPin(pin string) error {
	if len(pin) != 6 {
		return ErrTempPinFormat
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return ErrTempPinFormat
		}
	}
	return nil
}

func HashPin(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPin(hash, pin string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin))
}
