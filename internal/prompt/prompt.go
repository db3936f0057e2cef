// Package prompt implements the blocking yes/no confirmations and hidden
// secret input used by destructive and interactive operations.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Confirmer asks the user a yes/no question. Anything other than an
// explicit affirmative answer is a no.
type Confirmer interface {
	Confirm(question string) (bool, error)
}

// Terminal reads answers from In and writes questions to Out
type Terminal struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

// NewTerminal creates a Terminal bound to stdin/stderr
func NewTerminal() *Terminal {
	return &Terminal{In: os.Stdin, Out: os.Stderr}
}

// Confirm prints question and reads one line. Only "y" and "yes"
// (case-insensitive) confirm; EOF is a no.
func (t *Terminal) Confirm(question string) (bool, error) {
	if t.reader == nil {
		t.reader = bufio.NewReader(t.In)
	}
	fmt.Fprint(t.Out, question)

	line, err := t.reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	return IsAffirmative(line), nil
}

// IsAffirmative reports whether answer is an explicit yes
func IsAffirmative(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// Never declines every confirmation. Used in non-interactive mode.
type Never struct{}

// Confirm always returns false
func (Never) Confirm(string) (bool, error) { return false, nil }

// Always accepts every confirmation
type Always struct{}

// Confirm always returns true
func (Always) Confirm(string) (bool, error) { return true, nil }

// IsTerminal reports whether f is attached to a terminal
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// ReadSecret prints label to stderr and reads a line from the terminal
// without echo.
func ReadSecret(label string) ([]byte, error) {
	fmt.Fprint(os.Stderr, label)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}
	return secret, nil
}

// ReadValue reads a secret value from r. When multiline is false reading
// stops at the first newline; otherwise at EOF. A trailing newline is
// dropped.
func ReadValue(r io.Reader, multiline bool) (string, error) {
	if !multiline {
		line, err := bufio.NewReader(r).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\n"), nil
}
