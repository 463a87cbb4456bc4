package cli

import (
	"encoding/hex"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrz1836/brcwallet/internal/config"
	"github.com/mrz1836/brcwallet/internal/output"
	"github.com/mrz1836/brcwallet/internal/vault"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	initWords      int
	initRestore    bool
	initPassphrase string
)

// initCmd creates the keystore.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or restore the wallet root key",
	Long: `Create the wallet's root key from a new BIP39 recovery phrase, or restore
it from an existing one with --restore. The key is stored encrypted with a
password you choose; a default config.yaml is written next to it.

Write the recovery phrase down. It is shown once and is the only way to
recover the wallet if the keystore or its password is lost.`,
	Example: `  brcwallet init
  brcwallet init --words 24
  brcwallet init --restore`,
	RunE: runInit,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	initCmd.Flags().IntVar(&initWords, "words", 12, "recovery phrase length: 12 or 24")
	initCmd.Flags().BoolVar(&initRestore, "restore", false, "restore from an existing recovery phrase")
	initCmd.Flags().StringVar(&initPassphrase, "passphrase", "", "optional BIP39 passphrase")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, _ []string) error {
	ks := vault.NewKeystore(config.KeystorePath(home()))
	if ks.Exists() {
		return walleterr.WithSuggestion(
			walleterr.Wrap(walleterr.ErrInvalidInput, "keystore already exists"),
			"remove "+config.KeystorePath(home())+" to start over")
	}

	mnemonic, err := initMnemonic()
	if err != nil {
		return err
	}

	root, err := vault.RootKeyFromMnemonic(mnemonic, initPassphrase)
	if err != nil {
		return walleterr.WithCause(walleterr.ErrInvalidInput, err)
	}

	password, err := newKeystorePassword()
	if err != nil {
		return err
	}
	defer vault.Zero(password)

	if err := ks.Create(root, string(password)); err != nil {
		if errors.Is(err, vault.ErrKeystoreExists) {
			return walleterr.Wrap(walleterr.ErrInvalidInput, "keystore already exists")
		}
		return err
	}

	if _, err := os.Stat(config.Path(home())); os.IsNotExist(err) {
		if err := config.Save(cfg, config.Path(home())); err != nil {
			logger.Error("writing default config: %v", err)
		}
	}

	identity := hex.EncodeToString(root.PubKey().SerializeCompressed())
	logger.Debug("keystore created at %s", config.KeystorePath(home()))

	result := struct {
		IdentityKey string `json:"identityKey"`
		Mnemonic    string `json:"mnemonic,omitempty"`
		Keystore    string `json:"keystore"`
	}{
		IdentityKey: identity,
		Keystore:    config.KeystorePath(home()),
	}
	if !initRestore {
		result.Mnemonic = mnemonic
	}

	return cmdFormatter(cmd).Result(result, func(w io.Writer) error {
		if !initRestore {
			output.Warnf(w, "Write down your recovery phrase and keep it offline:")
			outln(w)
			outln(w, "  "+mnemonic)
			outln(w)
		}
		output.Field(w, "Identity key", identity)
		output.Field(w, "Keystore", result.Keystore)
		output.Successf(w, "Wallet initialized")
		return nil
	})
}

// initMnemonic generates a phrase, or reads and checks one with --restore.
func initMnemonic() (string, error) {
	if !initRestore {
		m, err := vault.GenerateMnemonic(initWords)
		if err != nil {
			return "", walleterr.WithCause(walleterr.ErrInvalidInput, err)
		}
		return m, nil
	}

	input, err := promptMnemonicFn()
	if err != nil {
		return "", err
	}
	mnemonic := vault.NormalizeMnemonic(input)
	if err := vault.ValidateMnemonic(mnemonic); err != nil {
		return "", mnemonicError(mnemonic, err)
	}
	return mnemonic, nil
}

// mnemonicError reports unknown words with the nearest valid ones.
func mnemonicError(mnemonic string, cause error) error {
	err := walleterr.WithCause(walleterr.ErrInvalidInput, cause)
	unknown := vault.UnknownWords(mnemonic)
	if len(unknown) == 0 {
		return walleterr.WithSuggestion(err, "check the word order and count (12 or 24 words)")
	}

	hints := make([]string, 0, len(unknown))
	for _, w := range unknown {
		if s := vault.SuggestWord(w); s != "" {
			hints = append(hints, w+" -> "+s)
		} else {
			hints = append(hints, w+" -> ?")
		}
	}
	err = walleterr.WithContext(err, map[string]string{"unknown_words": strings.Join(unknown, " ")})
	return walleterr.WithSuggestion(err, "did you mean: "+strings.Join(hints, ", "))
}
