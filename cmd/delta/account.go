package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/and161185/delta-auth/internal/model"
	"github.com/and161185/delta-auth/internal/social"
	"github.com/and161185/delta-auth/internal/validate"
)

var errNotSignedIn = errors.New("not signed in; run: delta login")

func newLogoutCmd(g *globalFlags, s streams) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, s, func(ctx context.Context, a *app) error {
				a.store.Logout(ctx)
				fmt.Fprintln(s.out, "Signed out")
				return nil
			})
		},
	}
}

func newWhoamiCmd(g *globalFlags, s streams) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, s, func(_ context.Context, a *app) error {
				snap := a.store.Snapshot()
				if !snap.IsAuthenticated() {
					return errNotSignedIn
				}
				return printSession(s.out, format, snap)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "text", "output format (text, json, yaml)")
	return cmd
}

func newRefreshCmd(g *globalFlags, s streams) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, s, func(ctx context.Context, a *app) error {
				if err := a.store.Refresh(ctx); err != nil {
					return err
				}
				snap := a.store.Snapshot()
				if snap.ExpiresAt.IsZero() {
					fmt.Fprintln(s.out, "Session refreshed")
				} else {
					fmt.Fprintf(s.out, "Session refreshed, valid until %s\n", snap.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
				}
				return nil
			})
		},
	}
}

func newChangePasswordCmd(g *globalFlags, s streams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "change-password",
		Short: "Change the account password",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().String("current", "", "current password")
	cmd.Flags().String("new", "", "new password")
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, g, s, func(ctx context.Context, a *app) error {
			if !a.store.IsAuthenticated() {
				return errNotSignedIn
			}
			p := newPrompter(s)
			current, err := p.password(cmd, "current", "Current password")
			if err != nil {
				return err
			}
			next, err := p.password(cmd, "new", "New password")
			if err != nil {
				return err
			}
			if msg := validate.Password(next); msg != "" {
				return errors.New(msg)
			}
			if err := a.store.ChangePassword(ctx, current, next); err != nil {
				return err
			}
			fmt.Fprintln(s.out, "Password changed")
			return nil
		})
	}
	return cmd
}

func newProfileCmd(g *globalFlags, s streams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Update profile fields",
		Long: `Only the flags given are sent; everything else is left unchanged.

Examples:
  delta profile --first-name Ada
  delta profile --theme dark --language de`,
		Args: cobra.NoArgs,
	}
	f := cmd.Flags()
	f.String("first-name", "", "first name")
	f.String("last-name", "", "last name")
	f.String("username", "", "username")
	f.String("avatar", "", "avatar URL")
	f.String("theme", "", "theme (light, dark, auto)")
	f.String("language", "", "interface language")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, g, s, func(ctx context.Context, a *app) error {
			snap := a.store.Snapshot()
			if !snap.IsAuthenticated() {
				return errNotSignedIn
			}
			upd, err := profileUpdate(cmd, snap.User)
			if err != nil {
				return err
			}
			if upd.Empty() {
				return errors.New("nothing to update; pass at least one flag")
			}
			if err := a.store.UpdateProfile(ctx, upd); err != nil {
				return err
			}
			fmt.Fprintf(s.out, "Profile updated for %s\n", displayName(a.store.Snapshot().User))
			return nil
		})
	}
	return cmd
}

// profileUpdate collects the changed flags into a partial update.
func profileUpdate(cmd *cobra.Command, cur *model.User) (model.ProfileUpdate, error) {
	f := cmd.Flags()
	var upd model.ProfileUpdate
	get := func(name string) *string {
		if !f.Changed(name) {
			return nil
		}
		v, _ := f.GetString(name)
		return &v
	}
	upd.FirstName = get("first-name")
	upd.LastName = get("last-name")
	upd.Username = get("username")
	upd.Avatar = get("avatar")

	if upd.FirstName != nil {
		if msg := validate.Name("First name", *upd.FirstName); msg != "" {
			return upd, errors.New(msg)
		}
	}
	if upd.LastName != nil {
		if msg := validate.Name("Last name", *upd.LastName); msg != "" {
			return upd, errors.New(msg)
		}
	}
	if upd.Username != nil {
		if msg := validate.Username(*upd.Username); msg != "" {
			return upd, errors.New(msg)
		}
	}

	theme, lang := get("theme"), get("language")
	if theme != nil || lang != nil {
		prefs := cur.Preferences
		if theme != nil {
			switch *theme {
			case "light", "dark", "auto":
				prefs.Theme = *theme
			default:
				return upd, fmt.Errorf("unknown theme %q", *theme)
			}
		}
		if lang != nil {
			prefs.Language = *lang
		}
		upd.Preferences = &prefs
	}
	return upd, nil
}

func newVerifyEmailCmd(g *globalFlags, s streams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify-email",
		Short: "Verify the account email address",
		Long: `Without --code a verification email is requested and the code is
prompted for. With --code the code is submitted directly.`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().String("code", "", "verification code from the email")
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, g, s, func(ctx context.Context, a *app) error {
			if !a.store.IsAuthenticated() {
				return errNotSignedIn
			}
			if !cmd.Flags().Changed("code") {
				if err := a.store.SendVerificationEmail(ctx); err != nil {
					return err
				}
				fmt.Fprintln(s.err, "Verification email sent.")
			}
			code, err := newPrompter(s).str(cmd, "code", "Verification code")
			if err != nil {
				return err
			}
			if err := a.store.VerifyEmail(ctx, code); err != nil {
				return err
			}
			fmt.Fprintln(s.out, "Email verified")
			return nil
		})
	}
	return cmd
}

func newDeleteAccountCmd(g *globalFlags, s streams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete-account",
		Short: "Permanently delete the signed-in account",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().BoolP("yes", "y", false, "skip confirmation prompt")
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, g, s, func(ctx context.Context, a *app) error {
			snap := a.store.Snapshot()
			if !snap.IsAuthenticated() {
				return errNotSignedIn
			}
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				ok, err := newPrompter(s).confirm(fmt.Sprintf("Delete %s? This cannot be undone", snap.User.Email))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(s.out, "Aborted")
					return nil
				}
			}
			if err := a.store.DeleteAccount(ctx); err != nil {
				return err
			}
			fmt.Fprintln(s.out, "Account deleted")
			return nil
		})
	}
	return cmd
}

func newSocialCmd(g *globalFlags, s streams) *cobra.Command {
	return &cobra.Command{
		Use:       "social <provider>",
		Short:     "Sign in with a social provider",
		Long:      "Opens the provider sign-in in a browser and waits for the redirect on a local port.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{social.ProviderGoogle, social.ProviderApple, social.ProviderGitHub, social.ProviderFacebook},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, s, func(ctx context.Context, a *app) error {
				provider := strings.ToLower(args[0])
				if avail := a.social.Providers(); len(avail) == 0 {
					return errors.New("no social providers configured; set oauth.<provider>.client_id")
				}
				if err := a.store.LoginWithProvider(ctx, provider); err != nil {
					return err
				}
				fmt.Fprintf(s.out, "Signed in as %s\n", displayName(a.store.Snapshot().User))
				return nil
			})
		},
	}
}

func newStrengthCmd(s streams) *cobra.Command {
	return &cobra.Command{
		Use:   "strength <password>",
		Short: "Score a password against the account policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			st := validate.PasswordStrengthOf(args[0])
			fmt.Fprintf(s.out, "%s (%d/7)\n", st.Level, st.Score)
			for _, f := range st.Feedback {
				fmt.Fprintf(s.out, "  - %s\n", f)
			}
			return nil
		},
	}
}

func newVersionCmd(s streams) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(s.out, "delta %s (%s)\n", version, buildDate)
		},
	}
}
