package validate

import "unicode/utf8"

// StrengthLevel buckets a password strength score.
type StrengthLevel string

const (
	StrengthWeak   StrengthLevel = "weak"
	StrengthFair   StrengthLevel = "fair"
	StrengthGood   StrengthLevel = "good"
	StrengthStrong StrengthLevel = "strong"
)

// PasswordStrength is the result of PasswordStrengthOf.
type PasswordStrength struct {
	Score    int // 0..7
	Feedback []string
	Level    StrengthLevel
}

// PasswordStrengthOf scores a password: one point per policy check (length,
// lower, upper, digit, special), one for length >= 12 and one when all five
// checks pass. Passwords shorter than 8 characters are always weak.
func PasswordStrengthOf(pw string) PasswordStrength {
	var (
		score    int
		feedback []string
	)
	long := utf8.RuneCountInString(pw) >= 8
	checks := []struct {
		ok  bool
		msg string
	}{
		{long, "Use at least 8 characters"},
		{reLower.MatchString(pw), "Add lowercase letters"},
		{reUpper.MatchString(pw), "Add uppercase letters"},
		{reDigit.MatchString(pw), "Add numbers"},
		{reSpecial.MatchString(pw), "Add special characters"},
	}
	all := true
	for _, c := range checks {
		if c.ok {
			score++
			continue
		}
		all = false
		feedback = append(feedback, c.msg)
	}
	if utf8.RuneCountInString(pw) >= 12 {
		score++
	}
	if all {
		score++
	}

	var level StrengthLevel
	switch {
	case !long || score <= 2:
		level = StrengthWeak
	case score <= 4:
		level = StrengthFair
	case score <= 6:
		level = StrengthGood
	default:
		level = StrengthStrong
	}
	return PasswordStrength{Score: score, Feedback: feedback, Level: level}
}
