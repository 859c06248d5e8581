package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewBlockToken generates an opaque unique token used as the stem of a block
// file name. The token carries no ordering over block contents.
func NewBlockToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IsIntegral reports whether f carries an exact integer value, the only
// numeric shape accepted for ids and reserved metadata fields.
func IsIntegral(f float64) bool {
	return f == float64(int64(f))
}
