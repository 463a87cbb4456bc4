package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/mrz1836/brcwallet/internal/vault"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// minPasswordLength bounds keystore passwords from below.
const minPasswordLength = 8

// Prompt hooks, replaced in tests.
//
//nolint:gochecknoglobals // swapped by tests
var (
	promptPasswordFn    = promptPassword
	promptNewPasswordFn = promptNewPassword
	promptMnemonicFn    = promptMnemonic
)

// promptPassword prompts for a password with hidden input.
// The caller is responsible for zeroing the returned bytes after use.
func promptPassword(prompt string) ([]byte, error) {
	out(os.Stderr, "%s", prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd())) //nolint:gosec // G115: Fd fits in int
	outln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	return password, nil
}

// promptNewPassword prompts for a new keystore password with confirmation.
// The caller is responsible for zeroing the returned bytes after use.
func promptNewPassword() ([]byte, error) {
	password, err := promptPasswordFn("Enter keystore password: ")
	if err != nil {
		return nil, err
	}
	if err := checkPasswordLength(password); err != nil {
		vault.Zero(password)
		return nil, err
	}

	confirm, err := promptPasswordFn("Confirm password: ")
	if err != nil {
		vault.Zero(password)
		return nil, err
	}
	defer vault.Zero(confirm)

	if string(password) != string(confirm) {
		vault.Zero(password)
		return nil, walleterr.Wrap(walleterr.ErrInvalidInput, "passwords do not match")
	}
	return password, nil
}

func checkPasswordLength(password []byte) error {
	if len(password) < minPasswordLength {
		return walleterr.WithSuggestion(
			walleterr.Wrap(walleterr.ErrInvalidInput, "password too short"),
			fmt.Sprintf("use at least %d characters", minPasswordLength))
	}
	return nil
}

// promptMnemonic reads a recovery phrase from one line of stdin.
func promptMnemonic() (string, error) {
	out(os.Stderr, "Enter your recovery phrase (all words on one line): ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", walleterr.WithCause(walleterr.ErrInvalidInput, err)
	}
	return strings.TrimSpace(line), nil
}
