package arim

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// MaxCallLen is the longest call sign accepted, including any prefix,
	// suffix and SSID.
	MaxCallLen = 12

	// MaxGridLen is the longest Maidenhead locator accepted.
	MaxGridLen = 8
)

var (
	ErrBadCall = errors.New("invalid call sign")
	ErrBadGrid = errors.New("invalid grid square")
)

// Call is a validated, upper-case station call sign such as "W1AW" or
// "VE3/K1ABC-7".
type Call string

// ParseCall validates s as a call sign. Lower-case input is accepted and
// normalized. Over-long input is rejected, never truncated.
func ParseCall(s string) (Call, error) {
	if len(s) == 0 || len(s) > MaxCallLen {
		return "", fmt.Errorf("%w: %q", ErrBadCall, s)
	}

	s = strings.ToUpper(s)

	var letters, digits int
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
			letters++
		case c >= '0' && c <= '9':
			digits++
		case c == '/' || c == '-':
		default:
			return "", fmt.Errorf("%w: %q", ErrBadCall, s)
		}
	}

	if letters == 0 || letters+digits < 3 {
		return "", fmt.Errorf("%w: %q", ErrBadCall, s)
	}

	return Call(s), nil
}

// MustCall is like ParseCall but panics on invalid input. It is meant for
// constants and tests.
func MustCall(s string) Call {
	c, err := ParseCall(s)
	if err != nil {
		panic(err)
	}

	return c
}

// Base returns the call without its SSID suffix.
func (c Call) Base() Call {
	if i := strings.LastIndexByte(string(c), '-'); i > 0 {
		return c[:i]
	}

	return c
}

func (c Call) String() string {
	return string(c)
}

func isCallByte(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' ||
		c >= '0' && c <= '9' || c == '/' || c == '-'
}

// GridSquare is a validated Maidenhead locator of 2, 4, 6 or 8 characters.
type GridSquare string

// ParseGridSquare validates s as a Maidenhead locator. The field pair is
// upper-cased and the sub-square pair lower-cased.
func ParseGridSquare(s string) (GridSquare, error) {
	if len(s) == 0 || len(s) > MaxGridLen || len(s)%2 != 0 {
		return "", fmt.Errorf("%w: %q", ErrBadGrid, s)
	}

	b := []byte(s)
	for i := range b {
		c := b[i]
		switch i / 2 {
		case 0:
			c = upper(c)
			if c < 'A' || c > 'R' {
				return "", fmt.Errorf("%w: %q", ErrBadGrid, s)
			}
		case 1, 3:
			if c < '0' || c > '9' {
				return "", fmt.Errorf("%w: %q", ErrBadGrid, s)
			}
		case 2:
			c = lower(c)
			if c < 'a' || c > 'x' {
				return "", fmt.Errorf("%w: %q", ErrBadGrid, s)
			}
		}
		b[i] = c
	}

	return GridSquare(b), nil
}

func (g GridSquare) String() string {
	return string(g)
}

func isGridByte(c byte) bool {
	return c >= 'A' && c <= 'X' || c >= 'a' && c <= 'x' ||
		c >= '0' && c <= '9'
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c - 'A' + 'a'
	}
	return c
}
