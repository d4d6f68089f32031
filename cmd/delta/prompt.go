package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var errNoInput = errors.New("input required but stdin is closed")

// prompter reads answers line by line. asked counts the prompts shown so a
// caller can tell whether a rejected value came from the user or a flag.
type prompter struct {
	sc    *bufio.Scanner
	w     io.Writer
	asked int
	ttyFD int // -1 unless input is a terminal
}

func newPrompter(s streams) *prompter {
	p := &prompter{sc: bufio.NewScanner(s.in), w: s.err, ttyFD: -1}
	if f, ok := s.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.ttyFD = int(f.Fd())
	}
	return p
}

func (p *prompter) ask(label string) (string, error) {
	p.asked++
	fmt.Fprintf(p.w, "%s: ", label)
	if !p.sc.Scan() {
		if err := p.sc.Err(); err != nil {
			return "", err
		}
		return "", errNoInput
	}
	return strings.TrimSpace(p.sc.Text()), nil
}

// secret reads a line without trimming inner spaces. On a terminal the
// input is not echoed.
func (p *prompter) secret(label string) (string, error) {
	p.asked++
	fmt.Fprintf(p.w, "%s: ", label)
	if p.ttyFD >= 0 {
		b, err := term.ReadPassword(p.ttyFD)
		fmt.Fprintln(p.w)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	if !p.sc.Scan() {
		if err := p.sc.Err(); err != nil {
			return "", err
		}
		return "", errNoInput
	}
	return strings.TrimRight(p.sc.Text(), "\r\n"), nil
}

func (p *prompter) confirm(label string) (bool, error) {
	v, err := p.ask(label + " [y/N]")
	if err != nil {
		return false, err
	}
	v = strings.ToLower(v)
	return v == "y" || v == "yes", nil
}

// str returns the flag value when it was set, otherwise prompts for it.
func (p *prompter) str(cmd *cobra.Command, flag, label string) (string, error) {
	if cmd.Flags().Changed(flag) {
		return cmd.Flags().GetString(flag)
	}
	return p.ask(label)
}

func (p *prompter) password(cmd *cobra.Command, flag, label string) (string, error) {
	if cmd.Flags().Changed(flag) {
		return cmd.Flags().GetString(flag)
	}
	return p.secret(label)
}

// boolean returns the flag value when set, otherwise asks a yes/no question.
func (p *prompter) boolean(cmd *cobra.Command, flag, label string) (bool, error) {
	if cmd.Flags().Changed(flag) {
		return cmd.Flags().GetBool(flag)
	}
	return p.confirm(label)
}
