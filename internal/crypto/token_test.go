package crypto

import "testing"

func TestNewRawToken(t *testing.T) {
	a, err := NewRawToken()
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	b, err := NewRawToken()
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if a == b {
		t.Fatalf("two draws must differ")
	}
	if len(a) != 43 {
		t.Fatalf("expected 43-char base64url of 32 bytes, got %d", len(a))
	}
}

func TestHashTokenHex(t *testing.T) {
	sum := HashToken("abc")
	if len(sum) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sum))
	}
	if sum != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("sha256 mismatch: %s", sum)
	}
	if HashToken("abc") != sum {
		t.Fatalf("hash must be deterministic")
	}
}

func TestSixDigitCodes(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := NewOTP()
		if err != nil {
			t.Fatalf("otp error: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
		if code[0] == '0' {
			t.Fatalf("code below 100000: %q", code)
		}
		if err := ValidateTempPin(code); err != nil {
			t.Fatalf("drawn code must satisfy the 6-digit shape: %v", err)
		}
	}
}
