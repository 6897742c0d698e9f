package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

const patternLength = 5

var patternToBits = strings.NewReplacer("-", "0", "+", "1")
var bitsToPattern = strings.NewReplacer("0", "-", "1", "+")

// PatternToInt reads a pattern of '+' and '-' glyphs as a binary number
// with '+' as 1, so "+--+-" is 18.
func PatternToInt(pattern string) (int, error) {
	if pattern == "" || strings.Trim(pattern, "+-") != "" {
		return 0, fmt.Errorf("invalid pattern %q", pattern)
	}
	value, err := strconv.ParseInt(patternToBits.Replace(pattern), 2, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return int(value), nil
}

// IntToPattern renders the low five bits of value as a pattern.
func IntToPattern(value int) string {
	bits := strconv.FormatInt(int64(value&(1<<patternLength-1)|1<<patternLength), 2)[1:]
	return bitsToPattern.Replace(bits)
}
