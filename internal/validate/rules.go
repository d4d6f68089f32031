// Package validate implements the pure form validation rules used by the auth flow.
//
// Field validators return an empty string when the value is valid and a
// human-readable message otherwise. Form validation preserves rule order so
// callers can report the first failing field deterministically.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Form is raw form input keyed by field name. Values are strings or bools.
type Form map[string]any

// String returns the string value of field, "" when absent or not a string.
func (f Form) String(field string) string {
	s, _ := f[field].(string)
	return s
}

// Bool returns the bool value of field, false when absent or not a bool.
func (f Form) Bool(field string) bool {
	b, _ := f[field].(bool)
	return b
}

// Rule describes the checks applied to a single field, evaluated in the order
// required, min length, max length, pattern, custom.
type Rule struct {
	Label           string
	Required        bool
	RequiredMessage string
	MinLength       int
	MaxLength       int
	Pattern         *regexp.Regexp
	Custom          func(value any, form Form) string
}

// FieldRule binds a rule to a form field.
type FieldRule struct {
	Field string
	Rule  Rule
}

// Rules is an ordered rule set.
type Rules []FieldRule

// Only returns the subset of rules for the named fields, keeping rule order.
func (r Rules) Only(fields ...string) Rules {
	want := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		want[f] = struct{}{}
	}
	out := make(Rules, 0, len(fields))
	for _, fr := range r {
		if _, ok := want[fr.Field]; ok {
			out = append(out, fr)
		}
	}
	return out
}

// FieldError is a single failing field.
type FieldError struct {
	Field   string
	Message string
}

// Errors is the ordered result of validating a form.
type Errors []FieldError

// Get returns the message for field or "".
func (e Errors) Get(field string) string {
	for _, fe := range e {
		if fe.Field == field {
			return fe.Message
		}
	}
	return ""
}

// Map converts errors into a field-keyed map for display.
func (e Errors) Map() map[string]string {
	if len(e) == 0 {
		return nil
	}
	m := make(map[string]string, len(e))
	for _, fe := range e {
		m[fe.Field] = fe.Message
	}
	return m
}

// HasErrors reports whether any field failed.
func HasErrors(e Errors) bool {
	for _, fe := range e {
		if fe.Message != "" {
			return true
		}
	}
	return false
}

// FirstError returns the first failing field, or a zero FieldError.
func FirstError(e Errors) FieldError {
	for _, fe := range e {
		if fe.Message != "" {
			return fe
		}
	}
	return FieldError{}
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case bool:
		return !x
	}
	return false
}

// ValidateField applies r to value. form is passed through to cross-field checks.
func ValidateField(field string, value any, r Rule, form Form) string {
	label := r.Label
	if label == "" {
		label = field
	}
	if isBlank(value) {
		if !r.Required {
			return ""
		}
		if r.RequiredMessage != "" {
			return r.RequiredMessage
		}
		return label + " is required"
	}

	if s, ok := value.(string); ok {
		n := utf8.RuneCountInString(s)
		if r.MinLength > 0 && n < r.MinLength {
			return fmt.Sprintf("%s must be at least %d characters long", label, r.MinLength)
		}
		if r.MaxLength > 0 && n > r.MaxLength {
			return fmt.Sprintf("%s must be less than %d characters", label, r.MaxLength)
		}
		if r.Pattern != nil && !r.Pattern.MatchString(s) {
			return label + " format is invalid"
		}
	}

	if r.Custom != nil {
		return r.Custom(value, form)
	}
	return ""
}

// ValidateForm validates every field named in rules and returns the failures in rule order.
func ValidateForm(form Form, rules Rules) Errors {
	var out Errors
	for _, fr := range rules {
		if msg := ValidateField(fr.Field, form[fr.Field], fr.Rule, form); msg != "" {
			out = append(out, FieldError{Field: fr.Field, Message: msg})
		}
	}
	return out
}

// Sanitize trims surrounding whitespace from every string value.
func Sanitize(form Form) Form {
	out := make(Form, len(form))
	for k, v := range form {
		if s, ok := v.(string); ok {
			out[k] = strings.TrimSpace(s)
			continue
		}
		out[k] = v
	}
	return out
}
