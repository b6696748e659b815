// Package prompt asks the operator questions on a terminal. Callers that are
// not attached to one pass --force or --passphrase instead.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// ErrNoTerminal is returned when a prompt needs a terminal and there is none.
var ErrNoTerminal = errors.New("no terminal available for prompting")

// Interactive reports whether f is a terminal.
func Interactive(f *os.File) bool {
	if f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Confirm writes question to out and reads a yes/no answer from in. Anything
// but y or yes declines.
func Confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	if out != nil {
		fmt.Fprintf(out, "%s [y/N]: ", strings.TrimSpace(question))
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	ans := strings.TrimSpace(strings.ToLower(line))
	return ans == "y" || ans == "yes", nil
}

// Passphrase reads a secret from the terminal in without echoing it.
func Passphrase(in *os.File, out io.Writer, label string) (string, error) {
	if !Interactive(in) {
		return "", ErrNoTerminal
	}
	fmt.Fprintf(out, "%s: ", label)
	secret, err := term.ReadPassword(int(in.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}
