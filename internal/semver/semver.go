// Package semver implements the three-component version and constraint
// grammar used by plugin manifests: major.minor.patch comparisons plus
// >=, <=, =, ^ (compatible), ~ (tilde) and * constraints.
package semver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goatkit/pluginhost/internal/pluginerrors"
)

// ErrInvalidVersion is returned (wrapped) when a version string does not
// parse as X.Y.Z with non-negative integer components.
var ErrInvalidVersion = pluginerrors.ErrInvalidVersion

// Version is a non-negative (major, minor, patch) triple with a total
// lexicographic order.
type Version struct {
	Major, Minor, Patch uint64
}

// Parse parses a "X.Y.Z" string. Any deviation from three non-negative
// integer components fails with an error wrapping ErrInvalidVersion.
func Parse(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("%w: %q: expected X.Y.Z", ErrInvalidVersion, s)
	}
	nums := make([]uint64, 3)
	for i, p := range parts {
		if p == "" {
			return Version{}, fmt.Errorf("%w: %q: empty component", ErrInvalidVersion, s)
		}
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, s, err)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// MustParse panics if s does not parse. Intended for static version
// literals (host API version constants, tests).
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String formats the version as "X.Y.Z". Parse(v.String()) always
// round-trips to v.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0, or 1 per the usual ordering contract, comparing
// major, then minor, then patch.
func (v Version) Compare(other Version) int {
	if v.Major != other.Major {
		return cmpUint(v.Major, other.Major)
	}
	if v.Minor != other.Minor {
		return cmpUint(v.Minor, other.Minor)
	}
	return cmpUint(v.Patch, other.Patch)
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Less reports whether v sorts before other.
func (v Version) Less(other Version) bool { return v.Compare(other) < 0 }

// Equal reports whether v and other are the same triple.
func (v Version) Equal(other Version) bool { return v.Compare(other) == 0 }

// Constraint is a parsed version requirement: one of >=, <=, =, ^, ~, or *.
type Constraint struct {
	op  constraintOp
	ver Version
}

type constraintOp int

const (
	opAny constraintOp = iota
	opEQ
	opGE
	opLE
	opCaret
	opTilde
)

// ParseConstraint parses a constraint string.
func ParseConstraint(s string) (Constraint, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "*":
		return Constraint{op: opAny}, nil
	case strings.HasPrefix(s, ">="):
		v, err := Parse(s[2:])
		return Constraint{op: opGE, ver: v}, err
	case strings.HasPrefix(s, "<="):
		v, err := Parse(s[2:])
		return Constraint{op: opLE, ver: v}, err
	case strings.HasPrefix(s, "="):
		v, err := Parse(s[1:])
		return Constraint{op: opEQ, ver: v}, err
	case strings.HasPrefix(s, "^"):
		v, err := Parse(s[1:])
		return Constraint{op: opCaret, ver: v}, err
	case strings.HasPrefix(s, "~"):
		v, err := Parse(s[1:])
		return Constraint{op: opTilde, ver: v}, err
	default:
		// Bare "X.Y.Z" is treated as an exact match.
		v, err := Parse(s)
		return Constraint{op: opEQ, ver: v}, err
	}
}

// MustParseConstraint panics on a malformed constraint. Intended for
// static constraint literals.
func MustParseConstraint(s string) Constraint {
	c, err := ParseConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String renders the constraint back to its textual form.
func (c Constraint) String() string {
	switch c.op {
	case opAny:
		return "*"
	case opEQ:
		return "=" + c.ver.String()
	case opGE:
		return ">=" + c.ver.String()
	case opLE:
		return "<=" + c.ver.String()
	case opCaret:
		return "^" + c.ver.String()
	case opTilde:
		return "~" + c.ver.String()
	default:
		return "?"
	}
}

// Satisfies reports whether v satisfies the constraint.
func (c Constraint) Satisfies(v Version) bool {
	switch c.op {
	case opAny:
		return true
	case opEQ:
		return v.Equal(c.ver)
	case opGE:
		return !v.Less(c.ver)
	case opLE:
		return !c.ver.Less(v)
	case opCaret:
		return v.Major == c.ver.Major && !v.Less(c.ver)
	case opTilde:
		return v.Major == c.ver.Major && v.Minor == c.ver.Minor && v.Patch >= c.ver.Patch
	default:
		return false
	}
}

// Satisfies is a convenience form for one-off checks without holding a
// parsed Constraint.
func Satisfies(v Version, constraint string) (bool, error) {
	c, err := ParseConstraint(constraint)
	if err != nil {
		return false, err
	}
	return c.Satisfies(v), nil
}
