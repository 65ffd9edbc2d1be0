// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

// Package mask implements the column value redaction rules. All transforms
// are pure and deterministic.
package mask

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/toeirei/dbcopier/internal/model"
)

// FixedPlaceholder replaces values under a fixed rule without a pattern.
const FixedPlaceholder = "****"

// Apply redacts value according to rule. Unknown rule types return the
// value unchanged; config validation rejects them earlier.
func Apply(value string, rule model.MaskRule) string {
	switch rule.RuleType {
	case model.MaskHash:
		return Hash(value)
	case model.MaskFixed:
		if rule.Pattern != nil {
			return *rule.Pattern
		}
		return FixedPlaceholder
	case model.MaskPattern:
		if rule.Pattern == nil {
			return value
		}
		return Pattern(value, *rule.Pattern)
	}
	return value
}

// Hash returns the lowercase hex SHA-256 of the UTF-8 bytes of value.
func Hash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// Pattern walks template left to right: '#' copies the next rune of value,
// '*' consumes the next rune and emits '*', anything else is literal. Output
// ends at the first consuming slot the value can no longer fill, so a short
// value yields a result shorter than the template and is never padded.
func Pattern(value, template string) string {
	src := []rune(value)
	var b strings.Builder
	b.Grow(len(template))
	pos := 0
	for _, p := range template {
		switch p {
		case '#', '*':
			if pos >= len(src) {
				return b.String()
			}
			if p == '#' {
				b.WriteRune(src[pos])
			} else {
				b.WriteByte('*')
			}
			pos++
		default:
			b.WriteRune(p)
		}
	}
	return b.String()
}

// Validate reports whether rule is well formed.
func Validate(rule model.MaskRule) bool {
	switch rule.RuleType {
	case model.MaskHash, model.MaskFixed:
		return true
	case model.MaskPattern:
		return rule.Pattern != nil && *rule.Pattern != ""
	}
	return false
}
