package password

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"unicode/utf8"
)

// SpecialCharacters is the set a strong password must draw at least one
// character from.
const SpecialCharacters = `!@#$%^&*(),.?":{}|<>`

const (
	upperCharacters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerCharacters = "abcdefghijklmnopqrstuvwxyz"
	digitCharacters = "0123456789"
	fullAlphabet    = upperCharacters + lowerCharacters + digitCharacters + SpecialCharacters
)

// ErrWeakPassword matches every *PolicyError.
var ErrWeakPassword = errors.New("password does not meet strength requirements")

// Rule names a single strength requirement.
type Rule string

const (
	RuleLength  Rule = "length"
	RuleUpper   Rule = "uppercase"
	RuleLower   Rule = "lowercase"
	RuleDigit   Rule = "digit"
	RuleSpecial Rule = "special"
)

// PolicyError reports the first rule a password failed.
type PolicyError struct {
	Rule      Rule
	MinLength int
}

func (e *PolicyError) Error() string {
	switch e.Rule {
	case RuleLength:
		return fmt.Sprintf("password must be at least %d characters long", e.MinLength)
	case RuleUpper:
		return "password must contain at least one uppercase letter"
	case RuleLower:
		return "password must contain at least one lowercase letter"
	case RuleDigit:
		return "password must contain at least one digit"
	case RuleSpecial:
		return "password must contain at least one special character"
	default:
		return ErrWeakPassword.Error()
	}
}

func (e *PolicyError) Is(target error) bool {
	return target == ErrWeakPassword
}

// Policy validates and generates passwords.
type Policy struct {
	MinLength       int
	GeneratedLength int
}

func DefaultPolicy() Policy {
	return Policy{
		MinLength:       12,
		GeneratedLength: 16,
	}
}

// ValidateStrength checks rules in a fixed order (length, uppercase,
// lowercase, digit, special) and reports the first one that fails. Length
// is counted in characters, not bytes.
func (p Policy) ValidateStrength(password string) error {
	if utf8.RuneCountInString(password) < p.MinLength {
		return &PolicyError{Rule: RuleLength, MinLength: p.MinLength}
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for i := 0; i < len(password); i++ {
		c := password[i]
		switch {
		case c >= 'A' && c <= 'Z':
			hasUpper = true
		case c >= 'a' && c <= 'z':
			hasLower = true
		case c >= '0' && c <= '9':
			hasDigit = true
		case isSpecial(c):
			hasSpecial = true
		}
	}

	switch {
	case !hasUpper:
		return &PolicyError{Rule: RuleUpper, MinLength: p.MinLength}
	case !hasLower:
		return &PolicyError{Rule: RuleLower, MinLength: p.MinLength}
	case !hasDigit:
		return &PolicyError{Rule: RuleDigit, MinLength: p.MinLength}
	case !hasSpecial:
		return &PolicyError{Rule: RuleSpecial, MinLength: p.MinLength}
	}

	return nil
}

// GenerateStrong returns a random password that always passes
// ValidateStrength. It takes one character from each required class, pads
// from the full alphabet, then shuffles, all from crypto/rand.
func (p Policy) GenerateStrong() (string, error) {
	return p.generate(rand.Reader)
}

func (p Policy) generate(r io.Reader) (string, error) {
	length := max(p.GeneratedLength, p.MinLength, 4)

	buf := make([]byte, 0, length)
	for _, class := range []string{upperCharacters, lowerCharacters, digitCharacters, SpecialCharacters} {
		c, err := pick(r, class)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}
	for len(buf) < length {
		c, err := pick(r, fullAlphabet)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}

	for i := len(buf) - 1; i > 0; i-- {
		j, err := rand.Int(r, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		k := j.Int64()
		buf[i], buf[k] = buf[k], buf[i]
	}

	return string(buf), nil
}

func pick(r io.Reader, set string) (byte, error) {
	n, err := rand.Int(r, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[n.Int64()], nil
}

func isSpecial(c byte) bool {
	for i := 0; i < len(SpecialCharacters); i++ {
		if SpecialCharacters[i] == c {
			return true
		}
	}
	return false
}
