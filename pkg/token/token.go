package token

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/blake2b"
)

const tokenBytes = 32

var (
	ErrGeneration   = errors.New("token generation failed")
	ErrInvalidToken = errors.New("invalid token")
)

// Generate returns a URL-safe opaque bearer token.
func Generate() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", ErrGeneration
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash returns the hex blake2b-256 digest stored in place of the token.
func Hash(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Validate rejects values that cannot have come from Generate
func Validate(token string) error {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != tokenBytes {
		return ErrInvalidToken
	}
	return nil
}

// Pair is the cancel and reschedule link tokens issued for one booking.
type Pair struct {
	Cancel     string
	Reschedule string
}

func NewPair() (Pair, error) {
	cancel, err := Generate()
	if err != nil {
		return Pair{}, err
	}
	reschedule, err := Generate()
	if err != nil {
		return Pair{}, err
	}
	return Pair{Cancel: cancel, Reschedule: reschedule}, nil
}
