package post

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// Normalize lowercases s, trims it and collapses internal whitespace.
// It is the comparison key for categories and emails.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	s = whitespaceRegex.ReplaceAllString(s, " ")
	return s
}

// CleanCategory trims and collapses whitespace in a category label, keeping
// its case. An empty label becomes DefaultCategory.
func CleanCategory(s string) string {
	s = whitespaceRegex.ReplaceAllString(strings.TrimSpace(s), " ")
	if s == "" {
		return DefaultCategory
	}
	return s
}

// SameCategory reports whether two labels name the same category.
func SameCategory(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// CountChars returns the character count as runes (not bytes).
func CountChars(text string) int {
	return utf8.RuneCountInString(text)
}
