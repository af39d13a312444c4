// Package prompt reads interactive input for CLI commands.
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

var (
	// ErrPasswordMismatch indicates the confirmation did not match.
	ErrPasswordMismatch = errors.New("passwords do not match")

	// ErrNotTerminal is returned when a hidden prompt is requested without a TTY.
	ErrNotTerminal = errors.New("stdin is not a terminal")
)

// Prompter reads from in and writes prompts to out. Hidden input requires
// in to be a terminal.
type Prompter struct {
	in     *os.File
	out    io.Writer
	reader *bufio.Reader
}

// New returns a prompter on stdin/stderr.
func New() *Prompter {
	return &Prompter{in: os.Stdin, out: os.Stderr, reader: bufio.NewReader(os.Stdin)}
}

// Password reads a line without echo.
func (p *Prompter) Password(label string) (string, error) {
	fd := int(p.in.Fd())
	if !term.IsTerminal(fd) {
		return "", ErrNotTerminal
	}
	_, _ = fmt.Fprintf(p.out, "%s: ", label)
	b, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

// NewPassword asks twice and enforces minLength.
func (p *Prompter) NewPassword(minLength int) (string, error) {
	password, err := p.Password("Password")
	if err != nil {
		return "", err
	}
	if len(password) < minLength {
		return "", fmt.Errorf("password must be at least %d characters", minLength)
	}
	confirm, err := p.Password("Confirm password")
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", ErrPasswordMismatch
	}
	return password, nil
}

// Confirm asks a yes/no question. Empty input returns defaultYes.
func (p *Prompter) Confirm(label string, defaultYes bool) (bool, error) {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}
	_, _ = fmt.Fprintf(p.out, "%s [%s]: ", label, hint)

	line, err := p.reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		return defaultYes, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
