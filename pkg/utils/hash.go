package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// HashParts hashes parts joined with a separator that cannot appear in
// normal text, so ("ab","c") and ("a","bc") differ.
func HashParts(parts ...string) string {
	return HashString(strings.Join(parts, "\x1f"))
}

// Truncate shortens s to at most n runes, appending an ellipsis when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
