package util

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// stderrLineLimit caps a subprocess message quoted in an error, in runes.
const stderrLineLimit = 160

// WrapError prefixes err with the operation that failed. A nil err stays nil.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

// LastStderrLine returns the last non-blank line of a subprocess's stderr,
// shortened to stderrLineLimit runes.
func LastStderrLine(stderr string) string {
	rest := strings.TrimRight(stderr, " \t\r\n")
	for rest != "" {
		i := strings.LastIndexByte(rest, '\n')
		line := strings.TrimSpace(rest[i+1:])
		if line != "" {
			return truncateRunes(line, stderrLineLimit)
		}
		if i < 0 {
			break
		}
		rest = rest[:i]
	}
	return ""
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
