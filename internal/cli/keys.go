package cli

import (
	"context"
	"encoding/base64"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/brcwallet/internal/keys"
	"github.com/mrz1836/brcwallet/internal/output"
	"github.com/mrz1836/brcwallet/internal/wallet"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// commandTimeout bounds a single CLI wallet call.
const commandTimeout = 30 * time.Second

// keyFlags are the derivation flags shared by key commands.
type keyFlags struct {
	protocol     string
	keyID        string
	counterparty string
}

func (f *keyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.protocol, "protocol", "", `protocol as "level:name", e.g. "2:hello world"`)
	cmd.Flags().StringVar(&f.keyID, "key-id", "", "key identifier within the protocol")
	cmd.Flags().StringVar(&f.counterparty, "counterparty", "", `counterparty public key, "self" or "anyone"`)
}

func (f *keyFlags) args() (wallet.KeyArgs, error) {
	p, err := parseProtocol(f.protocol)
	if err != nil {
		return wallet.KeyArgs{}, err
	}
	return wallet.KeyArgs{ProtocolID: p, KeyID: f.keyID, Counterparty: f.counterparty}, nil
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	pubkeyFlags    keyFlags
	pubkeyIdentity bool
	pubkeyForSelf  bool
	pubkeyQR       bool

	encryptFlags keyFlags
	encryptData  string
	encryptFile  string

	decryptFlags keyFlags
	decryptData  string
	decryptFile  string
)

// pubkeyCmd derives a public key.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var pubkeyCmd = &cobra.Command{
	Use:   "pubkey",
	Short: "Show the identity key or a derived public key",
	Example: `  brcwallet pubkey --identity --qr
  brcwallet pubkey --protocol "2:hello world" --key-id 1 --counterparty self`,
	RunE: runPubkey,
}

// encryptCmd encrypts data with a derived symmetric key.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var encryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt data for a counterparty",
	Long: `Encrypt data with a symmetric key derived from the protocol, key ID and
counterparty. The plaintext is read from --data, --file or stdin; the
ciphertext is printed as base64.`,
	Example: `  echo hi | brcwallet encrypt --protocol "2:private notes" --key-id 1`,
	RunE:    runEncrypt,
}

// decryptCmd reverses encryptCmd.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var decryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Decrypt base64 ciphertext",
	Long: `Decrypt base64 ciphertext produced by 'brcwallet encrypt' or any BRC-100
wallet with the same protocol, key ID and counterparty. The plaintext is
written as-is.`,
	Example: `  brcwallet decrypt --protocol "2:private notes" --key-id 1 --data AbC...`,
	RunE:    runDecrypt,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	pubkeyFlags.register(pubkeyCmd)
	pubkeyCmd.Flags().BoolVar(&pubkeyIdentity, "identity", false, "show the identity key")
	pubkeyCmd.Flags().BoolVar(&pubkeyForSelf, "for-self", false, "derive the key the counterparty would derive for you")
	pubkeyCmd.Flags().BoolVar(&pubkeyQR, "qr", false, "also render the key as a QR code")

	encryptFlags.register(encryptCmd)
	encryptCmd.Flags().StringVar(&encryptData, "data", "", "plaintext")
	encryptCmd.Flags().StringVar(&encryptFile, "file", "", "read plaintext from a file")

	decryptFlags.register(decryptCmd)
	decryptCmd.Flags().StringVar(&decryptData, "data", "", "base64 ciphertext")
	decryptCmd.Flags().StringVar(&decryptFile, "file", "", "read base64 ciphertext from a file")

	rootCmd.AddCommand(pubkeyCmd, encryptCmd, decryptCmd)
}

func runPubkey(cmd *cobra.Command, _ []string) error {
	args := &wallet.GetPublicKeyArgs{IdentityKey: pubkeyIdentity || pubkeyFlags.protocol == "", ForSelf: pubkeyForSelf}
	if !args.IdentityKey {
		ka, err := pubkeyFlags.args()
		if err != nil {
			return err
		}
		args.KeyArgs = ka
	}

	var res *wallet.GetPublicKeyResult
	err := withWallet(cmd, func(ctx context.Context, w *wallet.Wallet) error {
		var err error
		res, err = w.GetPublicKey(ctx, args, cliOriginator)
		return err
	})
	if err != nil {
		return err
	}

	return cmdFormatter(cmd).Result(res, func(w io.Writer) error {
		outln(w, res.PublicKey)
		if pubkeyQR {
			if !output.CanRenderQR(w) {
				output.Warnf(cmd.ErrOrStderr(), "terminal cannot render QR codes")
				return nil
			}
			outln(w)
			output.RenderQR(w, res.PublicKey, output.DefaultQRConfig())
		}
		return nil
	})
}

func runEncrypt(cmd *cobra.Command, _ []string) error {
	ka, err := encryptFlags.args()
	if err != nil {
		return err
	}
	plaintext, err := readInput(cmd, encryptData, encryptFile)
	if err != nil {
		return err
	}

	var res *wallet.EncryptResult
	err = withWallet(cmd, func(ctx context.Context, w *wallet.Wallet) error {
		var err error
		res, err = w.Encrypt(ctx, &wallet.EncryptArgs{Plaintext: plaintext, KeyArgs: ka}, cliOriginator)
		return err
	})
	if err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString(res.Ciphertext)
	return cmdFormatter(cmd).Result(struct {
		Ciphertext string `json:"ciphertext"`
	}{encoded}, func(w io.Writer) error {
		outln(w, encoded)
		return nil
	})
}

func runDecrypt(cmd *cobra.Command, _ []string) error {
	ka, err := decryptFlags.args()
	if err != nil {
		return err
	}
	raw, err := readInput(cmd, decryptData, decryptFile)
	if err != nil {
		return err
	}
	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return walleterr.WithSuggestion(
			walleterr.WithCause(walleterr.ErrInvalidInput, err),
			"ciphertext must be base64")
	}

	var res *wallet.DecryptResult
	err = withWallet(cmd, func(ctx context.Context, w *wallet.Wallet) error {
		var err error
		res, err = w.Decrypt(ctx, &wallet.DecryptArgs{Ciphertext: ciphertext, KeyArgs: ka}, cliOriginator)
		return err
	})
	if err != nil {
		return err
	}

	return cmdFormatter(cmd).Result(struct {
		Plaintext string `json:"plaintext"`
	}{string(res.Plaintext)}, func(w io.Writer) error {
		_, err := w.Write(res.Plaintext)
		return err
	})
}

// withWallet runs fn against an unlocked wallet for one command.
func withWallet(cmd *cobra.Command, fn func(ctx context.Context, w *wallet.Wallet) error) error {
	ctx, cancel := contextWithTimeout(cmd, commandTimeout)
	defer cancel()

	env, err := unlockedWallet(ctx, 0)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()
	return fn(ctx, env.wallet)
}

// contextWithTimeout returns a timeout context rooted in the command context.
func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	return context.WithTimeout(base, d)
}

// readInput returns inline data, a file's contents, or stdin.
func readInput(cmd *cobra.Command, data, file string) ([]byte, error) {
	switch {
	case data != "" && file != "":
		return nil, walleterr.Wrap(walleterr.ErrInvalidInput, "use --data or --file, not both")
	case data != "":
		return []byte(data), nil
	case file != "":
		b, err := os.ReadFile(file) //nolint:gosec // G304: user-selected input file
		if err != nil {
			return nil, walleterr.WithCause(walleterr.ErrInvalidInput, err)
		}
		return b, nil
	default:
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, walleterr.WithCause(walleterr.ErrInvalidInput, err)
		}
		return b, nil
	}
}

// parseProtocol parses "level:name".
func parseProtocol(s string) (keys.Protocol, error) {
	levelStr, name, ok := strings.Cut(s, ":")
	if !ok {
		return keys.Protocol{}, walleterr.WithSuggestion(
			walleterr.Wrap(walleterr.ErrInvalidProtocol, "protocol %q", s),
			`use "level:name", e.g. "2:hello world"`)
	}
	level, err := strconv.Atoi(strings.TrimSpace(levelStr))
	if err != nil || level < int(keys.SecurityLevelSilent) || level > int(keys.SecurityLevelEveryAppAndCounterparty) {
		return keys.Protocol{}, walleterr.Wrap(walleterr.ErrInvalidProtocol, "security level must be 0, 1 or 2")
	}
	return keys.NewProtocol(keys.SecurityLevel(level), name), nil
}
