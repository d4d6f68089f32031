package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/and161185/delta-auth/internal/errs"
	"github.com/and161185/delta-auth/internal/flow"
	"github.com/and161185/delta-auth/internal/model"
	"github.com/and161185/delta-auth/internal/validate"
)

// maxAttempts bounds re-prompting after a rejected answer.
const maxAttempts = 3

// withApp builds the app for one command and closes it afterwards.
func withApp(cmd *cobra.Command, g *globalFlags, s streams, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, g, s)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func (a *app) flow() *flow.Controller {
	return flow.New(a.store, flow.WithLogger(a.log))
}

// runStep builds and submits one step. Validation failures on values the user
// typed are reported and asked again; failures on flag values are returned.
func runStep(ctx context.Context, ctrl *flow.Controller, p *prompter, s streams, build func() (flow.Input, error)) (flow.Result, error) {
	for attempt := 1; ; attempt++ {
		before := p.asked
		in, err := build()
		if err != nil {
			return flow.Result{}, err
		}
		res, err := ctrl.Submit(ctx, in)
		if err == nil {
			return res, nil
		}
		if errs.KindOf(err) != errs.KindValidation || p.asked == before || attempt >= maxAttempts {
			return flow.Result{}, err
		}
		printFieldErrors(s, ctrl.State().FieldErrors, err)
	}
}

func printFieldErrors(s streams, fields map[string]string, err error) {
	if len(fields) <= 1 {
		fmt.Fprintln(s.err, userMessage(err))
		return
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(s.err, "  %s: %s\n", k, fields[k])
	}
}

func displayName(u *model.User) string {
	if u == nil {
		return "unknown user"
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return fmt.Sprintf("%s <%s>", name, u.Email)
}

func newLoginCmd(g *globalFlags, s streams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password (prompted when omitted)")
	cmd.Flags().Bool("remember", true, "keep the session after the command exits")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, g, s, func(ctx context.Context, a *app) error {
			p := newPrompter(s)
			remember, _ := cmd.Flags().GetBool("remember")
			res, err := runStep(ctx, a.flow(), p, s, func() (flow.Input, error) {
				email, err := p.str(cmd, "email", "Email")
				if err != nil {
					return nil, err
				}
				pw, err := p.password(cmd, "password", "Password")
				if err != nil {
					return nil, err
				}
				return flow.LoginInput{Email: email, Password: pw, RememberMe: remember}, nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(s.out, "Signed in as %s\n", displayName(res.User))
			return nil
		})
	}
	return cmd
}

func newRegisterCmd(g *globalFlags, s streams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Long: `Walks through the registration steps: name, date of birth, contact
details, the emailed verification code and a password.`,
		Args: cobra.NoArgs,
	}
	f := cmd.Flags()
	f.String("first-name", "", "first name")
	f.String("last-name", "", "last name")
	f.String("username", "", "username")
	f.Bool("agree-terms", false, "agree to the Terms of Service")
	f.Bool("marketing", false, "receive marketing email")
	f.String("birth-day", "", "day of birth")
	f.String("birth-month", "", "month of birth (name or number)")
	f.String("birth-year", "", "year of birth")
	f.String("phone", "", "phone number")
	f.String("email", "", "email address")
	f.String("code", "", "verification code")
	f.String("password", "", "password (prompted when omitted)")
	f.String("confirm-password", "", "password confirmation (defaults to --password)")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, g, s, func(ctx context.Context, a *app) error {
			p := newPrompter(s)
			ctrl := a.flow()
			if err := ctrl.SwitchTo(flow.StepRegister); err != nil {
				return err
			}
			marketing, _ := f.GetBool("marketing")

			steps := []func() (flow.Input, error){
				func() (flow.Input, error) {
					var in flow.RegisterInput
					var err error
					if in.FirstName, err = p.str(cmd, "first-name", "First name"); err != nil {
						return nil, err
					}
					if in.LastName, err = p.str(cmd, "last-name", "Last name"); err != nil {
						return nil, err
					}
					if !f.Changed("username") {
						if sug := validate.SuggestUsernames(in.FirstName, in.LastName); len(sug) > 0 {
							fmt.Fprintf(s.err, "Suggestions: %s\n", strings.Join(sug, ", "))
						}
					}
					if in.Username, err = p.str(cmd, "username", "Username"); err != nil {
						return nil, err
					}
					if in.AgreeToTerms, err = p.boolean(cmd, "agree-terms", "Agree to the Terms of Service?"); err != nil {
						return nil, err
					}
					in.AgreeToMarketing = marketing
					return in, nil
				},
				func() (flow.Input, error) {
					var in flow.DateOfBirthInput
					var err error
					if in.Day, err = p.str(cmd, "birth-day", "Birth day"); err != nil {
						return nil, err
					}
					if in.Month, err = p.str(cmd, "birth-month", "Birth month"); err != nil {
						return nil, err
					}
					if in.Year, err = p.str(cmd, "birth-year", "Birth year"); err != nil {
						return nil, err
					}
					return in, nil
				},
				func() (flow.Input, error) {
					var in flow.CreateAccountInput
					var err error
					if in.Phone, err = p.str(cmd, "phone", "Phone"); err != nil {
						return nil, err
					}
					if in.Email, err = p.str(cmd, "email", "Email"); err != nil {
						return nil, err
					}
					return in, nil
				},
				func() (flow.Input, error) {
					code, err := p.str(cmd, "code", "Verification code")
					return flow.VerifyCodeInput{Code: code}, err
				},
				passwordStep(cmd, p),
			}

			var res flow.Result
			for _, build := range steps {
				var err error
				if res, err = runStep(ctx, ctrl, p, s, build); err != nil {
					return err
				}
			}
			fmt.Fprintf(s.out, "Account created. Signed in as %s\n", displayName(res.User))
			return nil
		})
	}
	return cmd
}

// passwordStep builds the create-password input shared by register and recover.
func passwordStep(cmd *cobra.Command, p *prompter) func() (flow.Input, error) {
	return func() (flow.Input, error) {
		pw, err := p.password(cmd, "password", "New password")
		if err != nil {
			return nil, err
		}
		confirm := pw
		if cmd.Flags().Changed("confirm-password") || !cmd.Flags().Changed("password") {
			if confirm, err = p.password(cmd, "confirm-password", "Confirm password"); err != nil {
				return nil, err
			}
		}
		return flow.CreatePasswordInput{Password: pw, ConfirmPassword: confirm}, nil
	}
}

func newRecoverCmd(g *globalFlags, s streams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Reset a forgotten password",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("code", "", "code from the recovery email")
	cmd.Flags().String("password", "", "new password (prompted when omitted)")
	cmd.Flags().String("confirm-password", "", "password confirmation (defaults to --password)")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, g, s, func(ctx context.Context, a *app) error {
			p := newPrompter(s)
			ctrl := a.flow()
			if err := ctrl.SwitchTo(flow.StepForgotPassword); err != nil {
				return err
			}
			var email string
			_, err := runStep(ctx, ctrl, p, s, func() (flow.Input, error) {
				var err error
				email, err = p.str(cmd, "email", "Email")
				return flow.ForgotPasswordInput{Email: email}, err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(s.err, "If an account exists for %s, a recovery code is on its way.\n", validate.NormalizeEmail(email))

			if _, err := runStep(ctx, ctrl, p, s, func() (flow.Input, error) {
				code, err := p.str(cmd, "code", "Recovery code")
				return flow.VerifyCodeInput{Code: code}, err
			}); err != nil {
				return err
			}
			if _, err := runStep(ctx, ctrl, p, s, passwordStep(cmd, p)); err != nil {
				return err
			}
			fmt.Fprintln(s.out, "Password updated. Sign in with: delta login")
			return nil
		})
	}
	return cmd
}
