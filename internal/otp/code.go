package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
)

// DefaultLength is the number of digits in a generated code.
const DefaultLength = 6

var ten = big.NewInt(10)

// GenerateCode returns a numeric code of the given length using crypto/rand.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("otp: code length must be positive")
	}
	s := make([]byte, length)
	for i := range s {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		s[i] = byte('0' + d.Int64())
	}
	return string(s), nil
}

// HashCode returns the hex SHA-256 of code. Only hashes are written to Redis.
func HashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}
