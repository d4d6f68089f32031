package flow

import (
	"strings"
	"time"

	"github.com/and161185/delta-auth/internal/model"
	"github.com/and161185/delta-auth/internal/validate"
)

// Input is the data submitted on one step.
type Input interface {
	Step() Step
	validate(now time.Time) validate.Errors
}

// LoginInput is submitted on the login step.
type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool
}

func (LoginInput) Step() Step { return StepLogin }

func (in LoginInput) validate(time.Time) validate.Errors {
	return validate.ValidateForm(validate.Form{
		validate.FieldEmail:    in.Email,
		validate.FieldPassword: in.Password,
	}, validate.LoginRules)
}

// RegisterInput carries the name, username and consent fields.
type RegisterInput struct {
	FirstName        string
	LastName         string
	Username         string
	AgreeToTerms     bool
	AgreeToMarketing bool
}

func (RegisterInput) Step() Step { return StepRegister }

func (in RegisterInput) validate(time.Time) validate.Errors {
	form := validate.Sanitize(validate.Form{
		validate.FieldFirstName:    in.FirstName,
		validate.FieldLastName:     in.LastName,
		validate.FieldUsername:     in.Username,
		validate.FieldAgreeToTerms: in.AgreeToTerms,
	})
	rules := validate.AuthRules.Only(validate.FieldFirstName, validate.FieldLastName,
		validate.FieldUsername, validate.FieldAgreeToTerms)
	return validate.ValidateForm(form, rules)
}

// DateOfBirthInput carries the birth date as entered.
type DateOfBirthInput struct {
	Day   string
	Month string
	Year  string
}

func (DateOfBirthInput) Step() Step { return StepDateOfBirth }

func (in DateOfBirthInput) validate(now time.Time) validate.Errors {
	_, errs := validate.DateOfBirth(model.DateOfBirth(in), now)
	return errs
}

// CreateAccountInput carries the phone and email of a new account.
type CreateAccountInput struct {
	Phone string
	Email string
}

func (CreateAccountInput) Step() Step { return StepCreateAccount }

func (in CreateAccountInput) validate(time.Time) validate.Errors {
	var errs validate.Errors
	if msg := validate.Phone(in.Phone); msg != "" {
		errs = append(errs, validate.FieldError{Field: validate.FieldPhone, Message: msg})
	}
	if msg := validate.Email(strings.TrimSpace(in.Email)); msg != "" {
		errs = append(errs, validate.FieldError{Field: validate.FieldEmail, Message: msg})
	}
	return errs
}

// ForgotPasswordInput starts recovery for an email.
type ForgotPasswordInput struct {
	Email string
}

func (ForgotPasswordInput) Step() Step { return StepForgotPassword }

func (in ForgotPasswordInput) validate(time.Time) validate.Errors {
	if msg := validate.Email(strings.TrimSpace(in.Email)); msg != "" {
		return validate.Errors{{Field: validate.FieldEmail, Message: msg}}
	}
	return nil
}

// VerifyCodeInput carries the emailed code.
type VerifyCodeInput struct {
	Code string
}

func (VerifyCodeInput) Step() Step { return StepVerifyCode }

func (in VerifyCodeInput) validate(time.Time) validate.Errors {
	if msg := validate.VerificationCode(in.Code); msg != "" {
		return validate.Errors{{Field: validate.FieldVerificationCode, Message: msg}}
	}
	return nil
}

// CreatePasswordInput is the terminal step of registration and recovery.
type CreatePasswordInput struct {
	Password        string
	ConfirmPassword string
}

func (CreatePasswordInput) Step() Step { return StepCreatePassword }

func (in CreatePasswordInput) validate(time.Time) validate.Errors {
	return validate.NewPassword(in.Password, in.ConfirmPassword)
}
