// Package backupcode issues and redeems single-use recovery codes.
package backupcode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultCount = 8
	CodeLength   = 8

	// Alphabet leaves out characters that are easy to misread: I, L, O, U, 0 and 1.
	Alphabet = "ABCDEFGHJKMNPQRSTVWXYZ23456789"

	separator = "-"
)

var ErrInvalidCount = errors.New("backup code count must be positive")

// Generate returns count new codes drawn from Alphabet with crypto/rand.
func Generate(count int) ([]string, error) {
	if count <= 0 {
		return nil, ErrInvalidCount
	}

	max := big.NewInt(int64(len(Alphabet)))
	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		var b strings.Builder
		b.Grow(CodeLength)
		for j := 0; j < CodeLength; j++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return nil, fmt.Errorf("failed to generate backup code: %w", err)
			}
			b.WriteByte(Alphabet[n.Int64()])
		}
		codes = append(codes, b.String())
	}
	return codes, nil
}

// Hash returns a bcrypt hash for each normalized code.
func Hash(codes []string) ([]string, error) {
	return hashWithCost(codes, bcrypt.DefaultCost)
}

func hashWithCost(codes []string, cost int) ([]string, error) {
	hashes := make([]string, 0, len(codes))
	for _, c := range codes {
		h, err := bcrypt.GenerateFromPassword([]byte(Normalize(c)), cost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash backup code: %w", err)
		}
		hashes = append(hashes, string(h))
	}
	return hashes, nil
}

// Verify compares input to a stored hash, ignoring case, dashes and whitespace.
func Verify(input, hashed string) bool {
	normalized := Normalize(input)
	if len(normalized) != CodeLength || hashed == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(normalized)) == nil
}

// Format inserts a dash at the midpoint of each code, e.g. ABCD-EFGH.
func Format(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		mid := len(c) / 2
		out = append(out, c[:mid]+separator+c[mid:])
	}
	return out
}

// Normalize upper-cases input and strips dashes and whitespace.
func Normalize(input string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, input)
}
