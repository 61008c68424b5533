// Package prompt holds the interactive questions the CLI may ask on a terminal.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/manifoldco/promptui"
	"golang.org/x/term"
)

// ErrNotInteractive is returned when a question needs a terminal and stdin is not one.
var ErrNotInteractive = errors.New("stdin is not a terminal")

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// Terminal asks questions on the process's stdin and stderr.
type Terminal struct {
	Stdin  io.ReadCloser
	Stdout io.WriteCloser
	// Interactive is checked before each question; nil means "stdin is a terminal".
	Interactive func() bool
}

func NewTerminal() *Terminal {
	return &Terminal{Stdin: os.Stdin, Stdout: os.Stderr}
}

func (t *Terminal) interactive() bool {
	if t.Interactive != nil {
		return t.Interactive()
	}
	return IsTerminal(os.Stdin)
}

// Confirm asks a yes/no question. Any answer other than yes is false.
func (t *Terminal) Confirm(_ context.Context, label string) (bool, error) {
	if !t.interactive() {
		return false, ErrNotInteractive
	}
	p := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
		Stdin:     t.Stdin,
		Stdout:    t.Stdout,
	}
	_, err := p.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		if errors.Is(err, promptui.ErrInterrupt) {
			return false, fmt.Errorf("input cancelled: %w", err)
		}
		return false, nil
	}
	return true, nil
}

// Password reads a masked secret.
func (t *Terminal) Password(_ context.Context, label string) (string, error) {
	if !t.interactive() {
		return "", ErrNotInteractive
	}
	p := promptui.Prompt{
		Label:  label,
		Mask:   '*',
		Stdin:  t.Stdin,
		Stdout: t.Stdout,
	}
	v, err := p.Run()
	if err != nil {
		return "", fmt.Errorf("input cancelled: %w", err)
	}
	return v, nil
}
