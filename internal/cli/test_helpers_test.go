package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/brcwallet/internal/config"
	"github.com/mrz1836/brcwallet/internal/session"
)

const (
	testPassword = "correct horse battery"
	testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
)

// withMockPrompts replaces prompt functions for testing and restores on cleanup.
func withMockPrompts(t *testing.T, password []byte, mnemonic string) {
	t.Helper()
	origPW := promptPasswordFn
	origNewPW := promptNewPasswordFn
	origMnemonic := promptMnemonicFn
	t.Cleanup(func() {
		promptPasswordFn = origPW
		promptNewPasswordFn = origNewPW
		promptMnemonicFn = origMnemonic
	})
	promptPasswordFn = func(_ string) ([]byte, error) {
		cp := make([]byte, len(password))
		copy(cp, password)
		return cp, nil
	}
	promptNewPasswordFn = func() ([]byte, error) {
		cp := make([]byte, len(password))
		copy(cp, password)
		return cp, nil
	}
	promptMnemonicFn = func() (string, error) {
		return mnemonic, nil
	}
}

// setupHome writes an offline, in-memory configuration into a temp home and
// installs a memory keyring for sessions.
func setupHome(t *testing.T) string {
	t.Helper()
	return setupHomeWith(t, nil)
}

func setupHomeWith(t *testing.T, mutate func(c *config.Config)) string {
	t.Helper()
	dir := t.TempDir()

	c := config.Defaults()
	c.Home = dir
	c.Storage.Backend = "memory"
	c.Chain.Broadcasters = nil
	c.Fees.UseARCPolicy = false
	c.Logging.File = ""
	if mutate != nil {
		mutate(c)
	}
	require.NoError(t, config.Save(c, config.Path(dir)))

	orig := sessionKeyring
	sessionKeyring = session.NewMemoryKeyring()
	t.Cleanup(func() { sessionKeyring = orig })
	return dir
}

// execute runs the root command with args in JSON mode and returns stdout.
func execute(t *testing.T, home string, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(resetFlags)

	var stdout, stderr bytes.Buffer
	rootCmd.SetArgs(append([]string{"--home", home, "-o", "json"}, args...))
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(bytes.NewBufferString(stdin))
	err := rootCmd.ExecuteContext(context.Background())
	resetFlags()
	return stdout.String(), err
}

// resetFlags restores every flag to its default between runs.
func resetFlags() {
	var walk func(c *cobra.Command)
	walk = func(c *cobra.Command) {
		reset := func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
		c.Flags().VisitAll(reset)
		c.PersistentFlags().VisitAll(reset)
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(rootCmd)
}

func decodeJSON(t *testing.T, out string, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(out), v), out)
}

// initWallet restores testMnemonic into home.
func initWallet(t *testing.T, home string) string {
	t.Helper()
	withMockPrompts(t, []byte(testPassword), testMnemonic)
	out, err := execute(t, home, "", "init", "--restore")
	require.NoError(t, err)

	var res struct {
		IdentityKey string `json:"identityKey"`
		Keystore    string `json:"keystore"`
	}
	decodeJSON(t, out, &res)
	require.Equal(t, config.KeystorePath(home), res.Keystore)
	require.FileExists(t, filepath.Clean(res.Keystore))
	return res.IdentityKey
}
