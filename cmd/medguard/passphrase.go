package main

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"
)

// PassphraseEnv overrides the interactive prompt, for unattended runs.
const PassphraseEnv = "MEDGUARD_PASSPHRASE"

func readPassphrase() (string, error) {
	if p := os.Getenv(PassphraseEnv); p != "" {
		return p, nil
	}
	return prompt("Passphrase: ")
}

// newPassphrase asks twice when reading from a terminal.
func newPassphrase() (string, error) {
	if p := os.Getenv(PassphraseEnv); p != "" {
		return p, nil
	}
	p, err := prompt("New passphrase: ")
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", errors.New("passphrase must not be empty")
	}
	confirm, err := prompt("Confirm passphrase: ")
	if err != nil {
		return "", err
	}
	if p != confirm {
		return "", errors.New("passphrases do not match")
	}
	return p, nil
}

func prompt(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal for passphrase prompt; set %s", PassphraseEnv)
	}
	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}
