package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
)

// NewRawToken draws 32 random bytes and encodes them base64url. Used
// for refresh tokens, invitation tokens and password-reset tokens.
func NewRawToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken is the storage form of any bearer secret: SHA-256 hex.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// sixDigitCode draws uniformly from [100000, 999999].
func sixDigitCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// NewOTP returns a fresh 6-digit one-time code.
func NewOTP() (string, error) {
	return sixDigitCode()
}

// NewTempPin returns a fresh 6-digit temporary PIN for agent provisioning.
func NewTempPin() (string, error) {
	return sixDigitCode()
}
