package validate

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/and161185/delta-auth/internal/model"
)

// Age bounds for registration, inclusive.
const (
	MinAgeYears = 13
	MaxAgeYears = 100
)

var rePhone = regexp.MustCompile(`^\+?[0-9\s()-]{7,20}$`)

var monthNames = map[string]time.Month{}

func init() {
	for m := time.January; m <= time.December; m++ {
		name := strings.ToLower(m.String())
		monthNames[name] = m
		monthNames[name[:3]] = m
	}
}

func parseMonth(s string) (time.Month, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if m, ok := monthNames[s]; ok {
		return m, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 12 {
		return 0, false
	}
	return time.Month(n), true
}

// DateOfBirth validates the three select values and returns the parsed date.
// now anchors the selectable year range.
func DateOfBirth(d model.DateOfBirth, now time.Time) (time.Time, Errors) {
	var errs Errors
	day, month, year := strings.TrimSpace(d.Day), strings.TrimSpace(d.Month), strings.TrimSpace(d.Year)

	if day == "" {
		errs = append(errs, FieldError{Field: FieldDay, Message: "Day is required"})
	}
	if month == "" {
		errs = append(errs, FieldError{Field: FieldMonth, Message: "Month is required"})
	}
	if year == "" {
		errs = append(errs, FieldError{Field: FieldYear, Message: "Year is required"})
	}
	if len(errs) > 0 {
		return time.Time{}, errs
	}

	dn, err := strconv.Atoi(day)
	if err != nil || dn < 1 || dn > 31 {
		errs = append(errs, FieldError{Field: FieldDay, Message: "Please select a valid day"})
	}
	mn, ok := parseMonth(month)
	if !ok {
		errs = append(errs, FieldError{Field: FieldMonth, Message: "Please select a valid month"})
	}
	yn, err := strconv.Atoi(year)
	if err != nil || yn > now.Year()-MinAgeYears || yn < now.Year()-MaxAgeYears {
		errs = append(errs, FieldError{
			Field:   FieldYear,
			Message: fmt.Sprintf("Year must be between %d and %d", now.Year()-MaxAgeYears, now.Year()-MinAgeYears),
		})
	}
	if len(errs) > 0 {
		return time.Time{}, errs
	}

	dob := time.Date(yn, mn, dn, 0, 0, 0, 0, time.UTC)
	if dob.Day() != dn || dob.Month() != mn {
		return time.Time{}, Errors{{Field: FieldDay, Message: fmt.Sprintf("%s %d has no day %d", mn, yn, dn)}}
	}
	if ageOn(dob, now) < MinAgeYears {
		return time.Time{}, Errors{{Field: FieldYear, Message: fmt.Sprintf("You must be at least %d years old", MinAgeYears)}}
	}
	return dob, nil
}

// ageOn returns completed years between dob and now.
func ageOn(dob, now time.Time) int {
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}

// Phone validates a phone number: required, 7-20 chars of digits, spaces, +, -, ( and ).
func Phone(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "Phone number is required"
	}
	if !rePhone.MatchString(v) {
		return "Please enter a valid phone number"
	}
	digits := 0
	for _, r := range v {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits < 7 {
		return "Please enter a valid phone number"
	}
	return ""
}

// VerificationCode requires a non-blank code.
func VerificationCode(v string) string {
	if strings.TrimSpace(v) == "" {
		return "Please enter the verification code"
	}
	return ""
}

// NewPassword validates the create-password step: at least 6 characters and a
// matching confirmation.
func NewPassword(pw, confirm string) Errors {
	var errs Errors
	if utf8.RuneCountInString(pw) < 6 {
		errs = append(errs, FieldError{Field: FieldNewPassword, Message: "Password must be at least 6 characters"})
	}
	if pw != confirm {
		errs = append(errs, FieldError{Field: FieldConfirmPassword, Message: "Passwords do not match"})
	}
	return errs
}

// SuggestUsernames proposes valid usernames built from a first and last name.
func SuggestUsernames(first, last string) []string {
	f, l := strings.ToLower(strings.TrimSpace(first)), strings.ToLower(strings.TrimSpace(last))
	candidates := []string{
		f + l,
		f + "." + l,
		f + "_" + l,
		fmt.Sprintf("%s%s%d", f, l, rand.Intn(100)),
	}
	for i := 1; i <= 3; i++ {
		candidates = append(candidates, fmt.Sprintf("%s%s%d", f, l, i))
	}
	out := candidates[:0]
	for _, c := range candidates {
		if IsValidUsername(c) {
			out = append(out, c)
		}
	}
	return out
}
