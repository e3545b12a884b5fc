package post

import "strings"

// CheckInput contains parameters for checking post content.
type CheckInput struct {
	Content  string
	MaxChars int
}

// CheckResult contains the results of checking post content.
type CheckResult struct {
	Valid       bool
	Empty       bool
	TooLarge    bool
	ActualChars int
	MaxChars    int
}

// Check validates post content. MaxChars <= 0 falls back to MaxContentChars.
func Check(input CheckInput) *CheckResult {
	maxChars := input.MaxChars
	if maxChars <= 0 {
		maxChars = MaxContentChars
	}
	result := &CheckResult{
		Valid:       true,
		ActualChars: CountChars(input.Content),
		MaxChars:    maxChars,
	}

	if strings.TrimSpace(input.Content) == "" {
		result.Empty = true
		result.Valid = false
	}
	if result.ActualChars > maxChars {
		result.TooLarge = true
		result.Valid = false
	}

	return result
}
