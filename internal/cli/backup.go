package cli

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/spf13/cobra"

	"github.com/mrz1836/brcwallet/internal/backup"
	"github.com/mrz1836/brcwallet/internal/chain"
	"github.com/mrz1836/brcwallet/internal/config"
	"github.com/mrz1836/brcwallet/internal/output"
	"github.com/mrz1836/brcwallet/internal/storage/badgerstore"
	"github.com/mrz1836/brcwallet/internal/vault"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var backupDir string

// backupCmd is the parent command for backups.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, verify and restore encrypted wallet backups",
	Long: `A backup holds the root key and a snapshot of the wallet database
(baskets, actions and certificates), sealed with a password of its own.
The manifest (identity key, network, date) stays readable so backups can
be told apart and checked without the password.`,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var backupCreateCmd = &cobra.Command{
	Use:     "create",
	Short:   "Write a new backup",
	Example: `  brcwallet backup create`,
	RunE:    runBackupCreate,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var backupVerifyCmd = &cobra.Command{
	Use:     "verify <file>",
	Short:   "Check a backup's integrity without decrypting it",
	Args:    cobra.ExactArgs(1),
	Example: `  brcwallet backup verify ~/.brcwallet/backups/02ab...brcwallet`,
	RunE:    runBackupVerify,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var backupRestoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Restore the keystore and database from a backup",
	Long: `Decrypt a backup, write a new keystore protected by a password you
choose, and load the database snapshot. The home directory must not hold a
keystore yet.`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupRestore,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups in the backup directory",
	RunE:  runBackupList,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	backupCmd.PersistentFlags().StringVar(&backupDir, "dir", "", "backup directory (default: <home>/backups)")
	backupCmd.AddCommand(backupCreateCmd, backupVerifyCmd, backupRestoreCmd, backupListCmd)
	rootCmd.AddCommand(backupCmd)
}

func backupService() *backup.Service {
	dir := backupDir
	if dir == "" {
		dir = filepath.Join(home(), "backups")
	}
	return backup.NewService(config.ExpandHome(dir))
}

// backupError maps backup sentinels onto wallet errors.
func backupError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, backup.ErrBackupNotFound):
		return walleterr.WithCause(walleterr.ErrInvalidInput, err)
	case errors.Is(err, backup.ErrDecryptionFailed):
		return walleterr.WithCause(walleterr.ErrDecryptFailed, err)
	case errors.Is(err, backup.ErrBackupCorrupted), errors.Is(err, backup.ErrInvalidFormat):
		return walleterr.WithCause(walleterr.ErrInvalidInput, err)
	}
	return err
}

func runBackupCreate(cmd *cobra.Command, _ []string) error {
	env, err := openWallet()
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	root, err := loadRootKey()
	if err != nil {
		return err
	}

	outln(cmd.ErrOrStderr(), "Choose a password for the backup.")
	password, err := promptNewPasswordFn()
	if err != nil {
		return err
	}
	defer vault.Zero(password)

	var snap backup.Snapshotter
	if env.store != nil {
		snap = env.store
	}
	b, path, err := backupService().Create(root, string(env.wallet.Network()), snap, password)
	if err != nil {
		return backupError(err)
	}
	logger.Debug("backup written to %s", path)

	result := struct {
		Path     string          `json:"path"`
		Manifest backup.Manifest `json:"manifest"`
	}{path, b.Manifest}
	return cmdFormatter(cmd).Result(result, func(w io.Writer) error {
		output.Field(w, "Backup", path)
		output.Field(w, "Identity key", b.Manifest.IdentityKey)
		output.Successf(w, "Backup created")
		return nil
	})
}

func runBackupVerify(cmd *cobra.Command, args []string) error {
	m, err := backupService().Verify(args[0])
	if err != nil {
		return backupError(err)
	}
	return cmdFormatter(cmd).Result(m, func(w io.Writer) error {
		printManifest(w, m)
		output.Successf(w, "Backup is intact")
		return nil
	})
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	ks := vault.NewKeystore(config.KeystorePath(home()))
	if ks.Exists() {
		return walleterr.WithSuggestion(
			walleterr.Wrap(walleterr.ErrInvalidInput, "keystore already exists"),
			"restore into an empty --home")
	}

	password, err := promptPasswordFn("Backup password: ")
	if err != nil {
		return err
	}
	m, contents, err := backupService().Open(args[0], password)
	vault.Zero(password)
	if err != nil {
		return backupError(err)
	}
	root := secp256k1.PrivKeyFromBytes(contents.RootKey)
	vault.Zero(contents.RootKey)

	if n, _ := chain.ParseNetwork(cfg.Network); string(n) != m.Network {
		output.Warnf(cmd.ErrOrStderr(), "backup is for %s, configuration uses %s", m.Network, cfg.Network)
	}

	outln(cmd.ErrOrStderr(), "Choose a password for the restored keystore.")
	newPassword, err := newKeystorePassword()
	if err != nil {
		return err
	}
	defer vault.Zero(newPassword)

	if len(contents.Store) > 0 {
		if err := restoreStore(contents.Store); err != nil {
			return err
		}
	}
	if err := ks.Create(root, string(newPassword)); err != nil {
		return err
	}

	return cmdFormatter(cmd).Result(m, func(w io.Writer) error {
		printManifest(w, m)
		output.Successf(w, "Wallet restored")
		return nil
	})
}

// restoreStore loads a snapshot into the configured database.
func restoreStore(snapshot []byte) error {
	if cfg.Storage.Backend != "badger" {
		logger.Debug("skipping %d byte store snapshot: %s backend", len(snapshot), cfg.Storage.Backend)
		return nil
	}
	store, err := badgerstore.Open(cfg.StoragePath(), logger.Badger())
	if err != nil {
		return err
	}
	if err := store.Restore(bytes.NewReader(snapshot)); err != nil {
		_ = store.Close()
		return err
	}
	return store.Close()
}

func runBackupList(cmd *cobra.Command, _ []string) error {
	svc := backupService()
	names, err := svc.List()
	if err != nil {
		return err
	}

	type entry struct {
		File     string           `json:"file"`
		Manifest *backup.Manifest `json:"manifest,omitempty"`
		Error    string           `json:"error,omitempty"`
	}
	entries := make([]entry, 0, len(names))
	for _, name := range names {
		m, err := svc.Verify(svc.Path(name))
		e := entry{File: name, Manifest: m}
		if err != nil {
			e.Error = err.Error()
		}
		entries = append(entries, e)
	}

	return cmdFormatter(cmd).Result(entries, func(w io.Writer) error {
		if len(entries) == 0 {
			output.Infof(w, "No backups found")
			return nil
		}
		t := output.NewTable("FILE", "NETWORK", "AGE", "STATUS")
		for _, e := range entries {
			if e.Manifest == nil {
				t.AddRow(e.File, "-", "-", e.Error)
				continue
			}
			t.AddRow(e.File, e.Manifest.Network, e.Manifest.Age().Round(time.Minute).String(), "ok")
		}
		return t.Render(w)
	})
}

func printManifest(w io.Writer, m *backup.Manifest) {
	output.Field(w, "Identity key", m.IdentityKey)
	output.Field(w, "Network", m.Network)
	output.Field(w, "Created", m.CreatedAt.Local().Format(time.DateTime))
	output.Field(w, "Store bytes", strconv.Itoa(m.StoreBytes))
}
