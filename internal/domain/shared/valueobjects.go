package shared

import (
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// Identifiers
// ═══════════════════════════════════════════════════════════════════════════

// MaxIDLength bounds every externally supplied identifier.
const MaxIDLength = 128

// Identifiers come from the UI and from content bundles: slugs, UUIDs and
// opaque provider ids are all accepted.
var idRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:\-]*$`)

// ValidateID checks that id is a usable identifier. field names the input in
// the returned ValidationError.
func ValidateID(domain, op, field, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return Errorf(domain, op, ErrValidation, "%s is required", field)
	}
	if len(id) > MaxIDLength {
		return Errorf(domain, op, ErrValidation, "%s exceeds %d characters", field, MaxIDLength)
	}
	if !idRegex.MatchString(id) {
		return Errorf(domain, op, ErrValidation, "%s has invalid characters", field)
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// XP Value Object (Experience Points)
// ═══════════════════════════════════════════════════════════════════════════

// XP represents an amount of experience points. XP is monotonic: there is no
// subtraction.
type XP int64

// IsAward reports whether x can be written to the ledger as a single award.
func (x XP) IsAward() bool {
	return x > 0
}

// Int64 returns the underlying value.
func (x XP) Int64() int64 {
	return int64(x)
}

// Plus returns x+y. Negative y is ignored.
func (x XP) Plus(y XP) XP {
	if y <= 0 {
		return x
	}
	return x + y
}
