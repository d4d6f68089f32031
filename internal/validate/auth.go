package validate

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	reEmail    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	reLower    = regexp.MustCompile(`[a-z]`)
	reUpper    = regexp.MustCompile(`[A-Z]`)
	reDigit    = regexp.MustCompile(`\d`)
	reSpecial  = regexp.MustCompile(`[@$!%*?&]`)
	reName     = regexp.MustCompile(`^[a-zA-Z\s'-]+$`)
	reUsername = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// Field names shared by forms, the flow controller and API errors.
const (
	FieldEmail            = "email"
	FieldPassword         = "password"
	FieldConfirmPassword  = "confirmPassword"
	FieldFirstName        = "firstName"
	FieldLastName         = "lastName"
	FieldUsername         = "username"
	FieldAgreeToTerms     = "agreeToTerms"
	FieldPhone            = "phone"
	FieldDay              = "day"
	FieldMonth            = "month"
	FieldYear             = "year"
	FieldVerificationCode = "verificationCode"
	FieldNewPassword      = "newPassword"
	FieldCurrentPassword  = "currentPassword"
)

// IsValidEmail reports whether s has the basic local@domain.tld shape.
func IsValidEmail(s string) bool { return reEmail.MatchString(s) }

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Email validates an email field.
func Email(v string) string {
	if v == "" {
		return "Email is required"
	}
	if !IsValidEmail(v) {
		return "Please enter a valid email address"
	}
	return ""
}

// Password validates a password against the account policy.
func Password(v string) string {
	switch {
	case v == "":
		return "Password is required"
	case utf8.RuneCountInString(v) < 8:
		return "Password must be at least 8 characters long"
	case !reLower.MatchString(v):
		return "Password must contain at least one lowercase letter"
	case !reUpper.MatchString(v):
		return "Password must contain at least one uppercase letter"
	case !reDigit.MatchString(v):
		return "Password must contain at least one number"
	case !reSpecial.MatchString(v):
		return "Password must contain at least one special character"
	}
	return ""
}

// ConfirmPassword checks the confirmation against the password it repeats.
func ConfirmPassword(v, password string) string {
	if v == "" {
		return "Please confirm your password"
	}
	if password != "" && v != password {
		return "Passwords do not match"
	}
	return ""
}

// Name validates a first or last name; label is used in messages ("First name").
func Name(label, v string) string {
	n := utf8.RuneCountInString(v)
	switch {
	case v == "":
		return label + " is required"
	case n < 2:
		return label + " must be at least 2 characters long"
	case n > 50:
		return label + " must be less than 50 characters"
	case !reName.MatchString(v):
		return label + " can only contain letters, spaces, hyphens, and apostrophes"
	}
	return ""
}

// Username validates a username.
func Username(v string) string {
	n := utf8.RuneCountInString(v)
	switch {
	case v == "":
		return "Username is required"
	case n < 3:
		return "Username must be at least 3 characters long"
	case n > 30:
		return "Username must be less than 30 characters"
	case !reUsername.MatchString(v):
		return "Username can only contain letters, numbers, underscores, and hyphens"
	case strings.HasPrefix(v, "-") || strings.HasSuffix(v, "-"):
		return "Username cannot start or end with a hyphen"
	}
	return ""
}

// IsValidUsername is the boolean form of Username.
func IsValidUsername(v string) bool { return Username(v) == "" }

// AgreeToTerms requires explicit consent.
func AgreeToTerms(v bool) string {
	if !v {
		return "You must agree to the Terms of Service"
	}
	return ""
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// AuthRules is the full auth form rule set, in display order.
var AuthRules = Rules{
	{Field: FieldEmail, Rule: Rule{
		Label: "Email", Required: true,
		Custom: func(v any, _ Form) string { return Email(str(v)) },
	}},
	{Field: FieldPassword, Rule: Rule{
		Label: "Password", Required: true, MinLength: 8,
		Custom: func(v any, _ Form) string { return Password(str(v)) },
	}},
	{Field: FieldConfirmPassword, Rule: Rule{
		Label: "Confirm password", Required: true, RequiredMessage: "Please confirm your password",
		Custom: func(v any, f Form) string { return ConfirmPassword(str(v), f.String(FieldPassword)) },
	}},
	{Field: FieldFirstName, Rule: Rule{
		Label: "First name", Required: true, MinLength: 2, MaxLength: 50,
		Custom: func(v any, _ Form) string { return Name("First name", str(v)) },
	}},
	{Field: FieldLastName, Rule: Rule{
		Label: "Last name", Required: true, MinLength: 2, MaxLength: 50,
		Custom: func(v any, _ Form) string { return Name("Last name", str(v)) },
	}},
	{Field: FieldUsername, Rule: Rule{
		Label: "Username", Required: true, MinLength: 3, MaxLength: 30,
		Custom: func(v any, _ Form) string { return Username(str(v)) },
	}},
	{Field: FieldAgreeToTerms, Rule: Rule{
		Label: "Terms", Required: true, RequiredMessage: "You must agree to the Terms of Service",
		Custom: func(v any, _ Form) string { b, _ := v.(bool); return AgreeToTerms(b) },
	}},
}

// LoginRules checks the login form: email shape and a non-empty password.
var LoginRules = Rules{
	{Field: FieldEmail, Rule: Rule{
		Label: "Email", Required: true,
		Custom: func(v any, _ Form) string { return Email(str(v)) },
	}},
	{Field: FieldPassword, Rule: Rule{Label: "Password", Required: true}},
}
