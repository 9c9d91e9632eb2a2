package crypto

import (
	"errors"
	"testing"
)

func TestValidatePin(t *testing.T) {
	if err := ValidatePin("4827"); err != nil {
		t.Fatalf("4827 should be accepted: %v", err)
	}
	sequential := []string{"0123", "1234", "6789", "9876", "3210"}
	for _, pin := range sequential {
		if err := ValidatePin(pin); !errors.Is(err, ErrPinSequential) {
			t.Fatalf("%s: expected sequential rejection, got %v", pin, err)
		}
	}
	repeated := []string{"0000", "7777", "9999"}
	for _, pin := range repeated {
		if err := ValidatePin(pin); !errors.Is(err, ErrPinRepeated) {
			t.Fatalf("%s: expected repeated rejection, got %v", pin, err)
		}
	}
	bad := []string{"12", "12345", "12a4", ""}
	for _, pin := range bad {
		if err := ValidatePin(pin); !errors.Is(err, ErrPinFormat) {
			t.Fatalf("%q: expected format rejection, got %v", pin, err)
		}
	}
}

func TestPinHashing(t *testing.T) {
	hash, err := HashPin("4827")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	if err := CheckPin(hash, "4827"); err != nil {
		t.Fatalf("expected pin to match")
	}
	if err := CheckPin(hash, "4828"); err == nil {
		t.Fatalf("expected pin mismatch")
	}
}

func TestValidateTempPin(t *testing.T) {
	if err := ValidateTempPin("482716"); err != nil {
		t.Fatalf("six digits should be accepted: %v", err)
	}
	for _, pin := range []string{"4827", "48271a", "4827165"} {
		if err := ValidateTempPin(pin); !errors.Is(err, ErrTempPinFormat) {
			t.Fatalf("%q: expected format rejection, got %v", pin, err)
		}
	}
}
