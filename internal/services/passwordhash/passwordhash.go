// Package passwordhash implements spec.md §4.2's PasswordHasher: a salted
// PBKDF2-HMAC-SHA256 hash in the versioned format
// "v1$<iterations>$<salt_hex>$<hash_hex>", with constant-time verification
// and legacy-plaintext migration. It uses golang.org/x/crypto/pbkdf2, the
// same golang.org/x/crypto module the teacher already depends on for
// Argon2id mnemonic encryption (internal/services/crypto in arcsign) —
// a different primitive from the same dependency, not a new one. Strength
// classification is grounded on the teacher's utils.ValidatePassword
// (arcsign), generalized from a boolean gate into the {is_valid, score,
// feedback[]} structure spec.md §4.2 requires.
package passwordhash

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Version is the hash format tag this package produces.
	Version = "v1"
	// MinIterations is the floor spec.md §3/§4.2 requires.
	MinIterations = 100_000
	saltLen       = 32 // 256 bits
	hashLen       = 64
)

// knownWeak is a small denylist of commonly breached passwords; it is not
// exhaustive, only enough to catch the obvious cases spec.md §4.2 calls for.
var knownWeak = map[string]bool{
	"password": true, "password123": true, "12345678": true,
	"qwerty123": true, "letmein123": true, "admin123456": true,
	"123456789012": true, "iloveyou123": true,
}

// Hash produces a new "v1$<iterations>$<salt_hex>$<hash_hex>" string for
// password using MinIterations.
func Hash(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("passwordhash: generating salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(password), salt, MinIterations, hashLen, sha256.New)
	return fmt.Sprintf("%s$%d$%s$%s", Version, MinIterations, hex.EncodeToString(salt), hex.EncodeToString(derived)), nil
}

// Verify reports whether password matches stored, which must be a "v1$..."
// hash. A stored value with any other prefix is treated as legacy plaintext:
// Verify compares it directly (still constant-time) and reports
// legacyPlaintext=true so the caller can trigger the migration-on-next-
// success rehash flow.
func Verify(password, stored string) (ok bool, legacyPlaintext bool, err error) {
	if !strings.HasPrefix(stored, Version+"$") {
		match := subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1
		return match, match, nil
	}

	parts := strings.Split(stored, "$")
	if len(parts) != 4 {
		return false, false, fmt.Errorf("passwordhash: malformed hash")
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations < MinIterations {
		return false, false, fmt.Errorf("passwordhash: invalid iteration count")
	}
	salt, err := hex.DecodeString(parts[2])
	if err != nil {
		return false, false, fmt.Errorf("passwordhash: invalid salt encoding")
	}
	want, err := hex.DecodeString(parts[3])
	if err != nil {
		return false, false, fmt.Errorf("passwordhash: invalid hash encoding")
	}

	got := pbkdf2.Key([]byte(password), salt, iterations, len(want), sha256.New)
	match := subtle.ConstantTimeCompare(got, want) == 1
	return match, false, nil
}

// Strength is the result of ClassifyStrength.
type Strength struct {
	IsValid  bool     `json:"isValid"`
	Score    int      `json:"score"` // 0..8
	Feedback []string `json:"feedback"`
}

// ClassifyStrength scores password against length, the four character-class
// categories, and the known-weak denylist.
func ClassifyStrength(password string) Strength {
	var feedback []string
	score := 0

	switch {
	case len(password) >= 16:
		score += 3
	case len(password) >= 12:
		score += 2
	case len(password) >= 8:
		score += 1
	default:
		feedback = append(feedback, "password must be at least 8 characters long")
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}
	for _, present := range []bool{hasUpper, hasLower, hasDigit, hasSpecial} {
		if present {
			score++
		}
	}
	if !hasUpper {
		feedback = append(feedback, "add an uppercase letter")
	}
	if !hasLower {
		feedback = append(feedback, "add a lowercase letter")
	}
	if !hasDigit {
		feedback = append(feedback, "add a digit")
	}
	if !hasSpecial {
		feedback = append(feedback, "add a special character")
	}

	if knownWeak[strings.ToLower(password)] {
		score = 0
		feedback = append(feedback, "this password appears in common breach lists")
	}

	if score > 8 {
		score = 8
	}

	isValid := len(password) >= 8 && score >= 4 && !knownWeak[strings.ToLower(password)]
	return Strength{IsValid: isValid, Score: score, Feedback: feedback}
}
