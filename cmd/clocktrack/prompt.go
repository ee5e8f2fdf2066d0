package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"golang.org/x/term"
)

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func required(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("required")
	}
	return nil
}

// promptText asks for a single line when stdin is a terminal.
func promptText(title string) (string, error) {
	if !isTerminal() {
		return "", fmt.Errorf("%s: not a terminal, pass it as a flag", strings.ToLower(title))
	}
	var v string
	if err := huh.NewInput().Title(title).Validate(required).Value(&v).Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}

// promptReason asks why records are being discarded.
func promptReason(title string) (string, error) {
	if !isTerminal() {
		return "", errors.New("a reason is required, pass --reason")
	}
	var v string
	if err := huh.NewText().Title(title).Validate(required).Value(&v).Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}

func promptConfirm(title string) (bool, error) {
	if !isTerminal() {
		return false, errors.New("confirmation required, pass --yes")
	}
	var ok bool
	if err := huh.NewConfirm().Title(title).Value(&ok).Run(); err != nil {
		return false, err
	}
	return ok, nil
}

// promptPassphrase asks for a new passphrase twice.
func promptPassphrase() (string, error) {
	if !isTerminal() {
		return "", errors.New("a passphrase can only be entered on a terminal")
	}
	var pass, confirm string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Passphrase for the upload key").
			EchoMode(huh.EchoModePassword).
			Validate(required).
			Value(&pass),
		huh.NewInput().
			Title("Confirm passphrase").
			EchoMode(huh.EchoModePassword).
			Validate(func(s string) error {
				if s != pass {
					return errors.New("passphrases do not match")
				}
				return nil
			}).
			Value(&confirm),
	))
	if err := form.Run(); err != nil {
		return "", err
	}
	return pass, nil
}

var timeParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseSince accepts RFC 3339 or natural language ("2 hours ago",
// "yesterday 9am") relative to now.
func parseSince(text string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(text); err == nil {
		return now.Add(-d), nil
	}
	r, err := timeParser.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand time %q", text)
	}
	return r.Time, nil
}
