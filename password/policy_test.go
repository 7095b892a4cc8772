package password

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateStrengthReportsFirstFailingRule(t *testing.T) {
	p := DefaultPolicy()

	cases := []struct {
		name     string
		password string
		rule     Rule
	}{
		{name: "short and weak", password: "abc", rule: RuleLength},
		{name: "eleven chars", password: "Abcdefgh1!x", rule: RuleLength},
		{name: "eight multibyte chars", password: "Aa1!éééé", rule: RuleLength},
		{name: "no upper", password: "abcdefgh123!", rule: RuleUpper},
		{name: "no lower", password: "ABCDEFGH123!", rule: RuleLower},
		{name: "no digit", password: "Abcdefghijk!", rule: RuleDigit},
		{name: "no special", password: "Abcdefghij12", rule: RuleSpecial},
		{name: "non listed symbol", password: "Abcdefghij1-", rule: RuleSpecial},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := p.ValidateStrength(tc.password)
			var pe *PolicyError
			if !errors.As(err, &pe) {
				t.Fatalf("expected PolicyError, got %v", err)
			}
			if pe.Rule != tc.rule {
				t.Fatalf("expected rule %s, got %s", tc.rule, pe.Rule)
			}
			if !errors.Is(err, ErrWeakPassword) {
				t.Fatal("expected PolicyError to match ErrWeakPassword")
			}
		})
	}
}

func TestValidateStrengthAcceptsStrongPassword(t *testing.T) {
	p := DefaultPolicy()

	for _, pw := range []string{"Abcdefghij1!", "Correct{Horse}9", `P"q1` + strings.Repeat("z", 8), "Aa1!éééééééé"} {
		if err := p.ValidateStrength(pw); err != nil {
			t.Fatalf("ValidateStrength(%q) = %v", pw, err)
		}
	}
}

func TestGenerateStrongAlwaysValidates(t *testing.T) {
	p := DefaultPolicy()
	seen := make(map[string]struct{}, 10000)

	for i := 0; i < 10000; i++ {
		pw, err := p.GenerateStrong()
		if err != nil {
			t.Fatalf("GenerateStrong error: %v", err)
		}
		if len(pw) != p.GeneratedLength {
			t.Fatalf("expected length %d, got %d (%q)", p.GeneratedLength, len(pw), pw)
		}
		if err := p.ValidateStrength(pw); err != nil {
			t.Fatalf("generated password %q failed validation: %v", pw, err)
		}
		seen[pw] = struct{}{}
	}

	if len(seen) < 9990 {
		t.Fatalf("expected generated passwords to be unique, got %d distinct", len(seen))
	}
}

func TestGenerateStrongHonorsMinLength(t *testing.T) {
	p := Policy{MinLength: 20, GeneratedLength: 8}

	pw, err := p.GenerateStrong()
	if err != nil {
		t.Fatalf("GenerateStrong error: %v", err)
	}
	if len(pw) != 20 {
		t.Fatalf("expected length 20, got %d", len(pw))
	}
	if err := p.ValidateStrength(pw); err != nil {
		t.Fatalf("generated password failed validation: %v", err)
	}
}

func TestGenerateStrongPropagatesRandomFailure(t *testing.T) {
	p := DefaultPolicy()

	if _, err := p.generate(strings.NewReader("")); err == nil {
		t.Fatal("expected error from exhausted random source")
	}
}
