// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package mask

import (
	"regexp"
	"testing"

	"github.com/toeirei/dbcopier/internal/model"
)

var hex64 = regexp.MustCompile(`^[0-9a-f]{64}$`)

func ptr(s string) *string { return &s }

func TestHash_FixedLengthAndDeterministic(t *testing.T) {
	inputs := []string{"", "a", "alice@example.com", "日本語テキスト", string(make([]byte, 4096))}
	for _, in := range inputs {
		got := Apply(in, model.MaskRule{RuleType: model.MaskHash})
		if !hex64.MatchString(got) {
			t.Fatalf("hash of %q is not 64 hex chars: %q", in, got)
		}
		if again := Apply(in, model.MaskRule{RuleType: model.MaskHash}); again != got {
			t.Fatalf("hash not deterministic for %q", in)
		}
	}
	// Well-known digest of the empty string.
	if got := Hash(""); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Fatalf("unexpected sha256(\"\"): %s", got)
	}
}

func TestFixed(t *testing.T) {
	if got := Apply("secret", model.MaskRule{RuleType: model.MaskFixed}); got != "****" {
		t.Fatalf("expected placeholder, got %q", got)
	}
	if got := Apply("secret", model.MaskRule{RuleType: model.MaskFixed, Pattern: ptr("REDACTED")}); got != "REDACTED" {
		t.Fatalf("expected replacement, got %q", got)
	}
}

func TestPattern(t *testing.T) {
	tests := []struct {
		value, template, want string
	}{
		{"AB12345", "##-****", "AB-****"},
		{"A", "##-****", "A"},
		{"", "##-****", ""},
		{"AB1", "##-****", "AB-*"},
		{"555", "(###)", "(555)"},
		{"555123", "(###) ***", "(555) ***"},
		{"日本語", "#*#", "日*語"},
		{"abcdef", "##", "ab"},
	}
	for _, tt := range tests {
		got := Apply(tt.value, model.MaskRule{RuleType: model.MaskPattern, Pattern: ptr(tt.template)})
		if got != tt.want {
			t.Errorf("Pattern(%q, %q) = %q, want %q", tt.value, tt.template, got, tt.want)
		}
	}
}

func TestPattern_NoTemplateReturnsValue(t *testing.T) {
	if got := Apply("keep", model.MaskRule{RuleType: model.MaskPattern}); got != "keep" {
		t.Fatalf("expected value unchanged, got %q", got)
	}
}

func TestValidate(t *testing.T) {
	if !Validate(model.MaskRule{RuleType: model.MaskHash}) {
		t.Fatal("hash rule should validate")
	}
	if Validate(model.MaskRule{RuleType: model.MaskPattern}) {
		t.Fatal("pattern rule without template should not validate")
	}
	if Validate(model.MaskRule{RuleType: "rot13"}) {
		t.Fatal("unknown rule should not validate")
	}
}
