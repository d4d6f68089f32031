// Package flow drives the multi-step sign-in, registration and recovery forms
// as an explicit state machine.
package flow

// Step is one stage of the auth flow.
type Step string

const (
	StepLogin          Step = "login"
	StepRegister       Step = "register"
	StepDateOfBirth    Step = "date-of-birth"
	StepCreateAccount  Step = "create-account"
	StepForgotPassword Step = "forgot-password"
	StepVerifyCode     Step = "verify-code"
	StepCreatePassword Step = "create-password"

	// StepClosed is the transition target of terminal submits; it is never
	// the current step.
	StepClosed Step = "closed"
)

// Steps lists every reachable step in display order.
var Steps = []Step{
	StepLogin, StepRegister, StepDateOfBirth, StepCreateAccount,
	StepForgotPassword, StepVerifyCode, StepCreatePassword,
}

// Trigger is an event that may move the flow.
type Trigger string

const (
	TriggerSwitchRegister Trigger = "switch-register"
	TriggerSwitchForgot   Trigger = "switch-forgot-password"
	TriggerSwitchLogin    Trigger = "switch-login"
	TriggerSubmit         Trigger = "submit"
)

// Purpose tells which path reached the verify-code step.
type Purpose string

const (
	PurposeNone         Purpose = ""
	PurposeRegistration Purpose = "registration"
	PurposeRecovery     Purpose = "recovery"
)

// transitions is the complete transition table. Back is handled by the step
// stack. Submit only fires after the step input validates.
var transitions = map[Step]map[Trigger]Step{
	StepLogin: {
		TriggerSwitchRegister: StepRegister,
		TriggerSwitchForgot:   StepForgotPassword,
		TriggerSwitchLogin:    StepLogin,
		TriggerSubmit:         StepClosed,
	},
	StepRegister: {
		TriggerSubmit:      StepDateOfBirth,
		TriggerSwitchLogin: StepLogin,
	},
	StepDateOfBirth: {
		TriggerSubmit:      StepCreateAccount,
		TriggerSwitchLogin: StepLogin,
	},
	StepCreateAccount: {
		TriggerSubmit:      StepVerifyCode,
		TriggerSwitchLogin: StepLogin,
	},
	StepForgotPassword: {
		TriggerSubmit:      StepVerifyCode,
		TriggerSwitchLogin: StepLogin,
	},
	StepVerifyCode: {
		TriggerSubmit:      StepCreatePassword,
		TriggerSwitchLogin: StepLogin,
	},
	StepCreatePassword: {
		TriggerSubmit:      StepClosed,
		TriggerSwitchLogin: StepLogin,
	},
}

// Next returns the target of trigger from step and whether it is allowed.
func Next(from Step, t Trigger) (Step, bool) {
	to, ok := transitions[from][t]
	return to, ok
}

func switchTrigger(target Step) (Trigger, bool) {
	switch target {
	case StepRegister:
		return TriggerSwitchRegister, true
	case StepForgotPassword:
		return TriggerSwitchForgot, true
	case StepLogin:
		return TriggerSwitchLogin, true
	}
	return "", false
}

// Title is the heading shown for a step.
func (s Step) Title() string {
	switch s {
	case StepLogin:
		return "Sign in"
	case StepRegister:
		return "Create your account"
	case StepDateOfBirth:
		return "Date of birth"
	case StepCreateAccount:
		return "Contact details"
	case StepForgotPassword:
		return "Forgot password"
	case StepVerifyCode:
		return "Enter verification code"
	case StepCreatePassword:
		return "Create password"
	}
	return string(s)
}
