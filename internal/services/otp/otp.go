// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	// DefaultDigits is the length of a generated code.
	DefaultDigits = 6
	// MaxDigits is the longest code NewWithDigits accepts.
	MaxDigits = 10
)

var ten = big.NewInt(10)

// Generator produces numeric one-time passcodes. It holds no mutable state
// and is safe for concurrent use.
type Generator struct {
	digits int
}

// New creates a generator for 6-digit codes.
func New() *Generator {
	return &Generator{digits: DefaultDigits}
}

// NewWithDigits creates a generator for n-digit codes. n is clamped to
// [DefaultDigits, MaxDigits].
func NewWithDigits(n int) *Generator {
	n = max(n, DefaultDigits)
	n = min(n, MaxDigits)
	return &Generator{digits: n}
}

// Digits returns the code length.
func (g *Generator) Digits() int {
	return g.digits
}

// Generate returns a fresh code. Each digit is drawn independently and
// uniformly from a cryptographically secure source, so leading zeros are
// as likely as any other digit.
func (g *Generator) Generate() (string, error) {
	var sb strings.Builder
	sb.Grow(g.digits)

	for range g.digits {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		sb.WriteByte(byte('0' + n.Int64()))
	}

	return sb.String(), nil
}

// Valid reports whether code has the generator's shape.
func (g *Generator) Valid(code string) bool {
	if len(code) != g.digits {
		return false
	}
	for i := range len(code) {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
