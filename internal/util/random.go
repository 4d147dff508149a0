package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// passwordChars excludes visually ambiguous characters (0/O, 1/I/l) so a
// generated password read off a log line can be typed back reliably.
var passwordChars = []rune("23456789abcdefghjkmnpqrstvwxyzABCDEFGHJKMNPQRSTVWXYZ!@#$%&*-_")

// RandomPassword generates a high-entropy password of n characters.
func RandomPassword(n int) (string, error) {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		idx, err := RandomIntn(len(passwordChars))
		if err != nil {
			return "", fmt.Errorf("generating random password char: %w", err)
		}
		sb.WriteRune(passwordChars[idx])
	}
	return sb.String(), nil
}

func RandomIntn(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("generating random number: %w", err)
	}
	return int(n.Int64()), nil
}

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}
