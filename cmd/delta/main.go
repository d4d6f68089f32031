// Command delta is the command-line host for the delta-auth session and flow engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/and161185/delta-auth/internal/errs"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

type streams struct {
	in       io.Reader
	out, err io.Writer
}

// globalFlags override config values when set.
type globalFlags struct {
	configPath string
	apiURL     string
	backend    string
	logLevel   string
}

func newRootCmd(s streams) *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:   "delta",
		Short: "Sign in, register and manage a Delta Labs account",
		Long: `delta drives the Delta Labs authentication flow from the terminal.

Values not given as flags are prompted for. Configuration is read from
delta.yaml, .env and DELTA_* environment variables.

Examples:
  delta login --email mail@abc.com
  delta register
  delta recover --email mail@abc.com
  delta whoami -o yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(s.in)
	root.SetOut(s.out)
	root.SetErr(s.err)

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "config file (default ./delta.yaml)")
	pf.StringVar(&g.apiURL, "api-url", "", "auth API base URL")
	pf.StringVar(&g.backend, "storage", "", "session storage backend (memory, file, redis, postgres)")
	pf.StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newLoginCmd(&g, s),
		newRegisterCmd(&g, s),
		newRecoverCmd(&g, s),
		newLogoutCmd(&g, s),
		newWhoamiCmd(&g, s),
		newRefreshCmd(&g, s),
		newChangePasswordCmd(&g, s),
		newProfileCmd(&g, s),
		newVerifyEmailCmd(&g, s),
		newDeleteAccountCmd(&g, s),
		newSocialCmd(&g, s),
		newStrengthCmd(s),
		newVersionCmd(s),
	)
	return root
}

// userMessage renders err for the terminal.
func userMessage(err error) string {
	var ae *errs.AuthError
	if errors.As(err, &ae) && ae.Message != "" {
		if ae.Field != "" {
			return fmt.Sprintf("%s (%s)", ae.Message, ae.Field)
		}
		return ae.Message
	}
	return err.Error()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := streams{in: os.Stdin, out: os.Stdout, err: os.Stderr}
	if err := newRootCmd(s).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", userMessage(err))
		os.Exit(1)
	}
}
