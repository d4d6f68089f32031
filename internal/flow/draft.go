package flow

import (
	"github.com/and161185/delta-auth/internal/model"
	"github.com/and161185/delta-auth/internal/validate"
)

// draft accumulates registration data across steps.
type draft struct {
	firstName        string
	lastName         string
	username         string
	agreeToTerms     bool
	agreeToMarketing bool
	dateOfBirth      model.DateOfBirth
	phone            string
	email            string
	verificationCode string
	password         string
	confirmPassword  string

	committed map[Step]bool
}

func newDraft() *draft { return &draft{committed: map[Step]bool{}} }

// fieldSteps maps a draft field to the steps that collect it.
var fieldSteps = map[string][]Step{
	validate.FieldFirstName:        {StepRegister},
	validate.FieldLastName:         {StepRegister},
	validate.FieldUsername:         {StepRegister},
	validate.FieldDay:              {StepDateOfBirth},
	validate.FieldMonth:            {StepDateOfBirth},
	validate.FieldYear:             {StepDateOfBirth},
	validate.FieldPhone:            {StepCreateAccount},
	validate.FieldEmail:            {StepCreateAccount, StepForgotPassword},
	validate.FieldVerificationCode: {StepVerifyCode},
	validate.FieldPassword:         {StepCreatePassword},
	validate.FieldConfirmPassword:  {StepCreatePassword},
}

// DraftView is a read-only view of the registration draft.
type DraftView struct {
	d *draft
}

// Committed reports whether step's data has been accepted.
func (v DraftView) Committed(step Step) bool {
	return v.d != nil && v.d.committed[step]
}

// Empty reports whether no step has committed data.
func (v DraftView) Empty() bool {
	return v.d == nil || len(v.d.committed) == 0
}

// Get returns a committed field value. Fields of steps that have not
// committed yield "" and false.
func (v DraftView) Get(field string) (string, bool) {
	committed := false
	for _, step := range fieldSteps[field] {
		if v.Committed(step) {
			committed = true
			break
		}
	}
	if !committed {
		return "", false
	}
	d := v.d
	switch field {
	case validate.FieldFirstName:
		return d.firstName, true
	case validate.FieldLastName:
		return d.lastName, true
	case validate.FieldUsername:
		return d.username, true
	case validate.FieldDay:
		return d.dateOfBirth.Day, true
	case validate.FieldMonth:
		return d.dateOfBirth.Month, true
	case validate.FieldYear:
		return d.dateOfBirth.Year, true
	case validate.FieldPhone:
		return d.phone, true
	case validate.FieldEmail:
		return d.email, true
	case validate.FieldVerificationCode:
		return d.verificationCode, true
	case validate.FieldPassword:
		return d.password, true
	case validate.FieldConfirmPassword:
		return d.confirmPassword, true
	}
	return "", false
}

// DateOfBirth returns the committed birth date.
func (v DraftView) DateOfBirth() (model.DateOfBirth, bool) {
	if !v.Committed(StepDateOfBirth) {
		return model.DateOfBirth{}, false
	}
	return v.d.dateOfBirth, true
}

func (d *draft) registerData() model.RegisterData {
	dob := d.dateOfBirth
	return model.RegisterData{
		FirstName:        d.firstName,
		LastName:         d.lastName,
		Email:            d.email,
		Username:         d.username,
		Phone:            d.phone,
		DateOfBirth:      &dob,
		Password:         d.password,
		ConfirmPassword:  d.confirmPassword,
		VerificationCode: d.verificationCode,
		AgreeToTerms:     d.agreeToTerms,
		AgreeToMarketing: d.agreeToMarketing,
	}
}
