package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/mrz1836/brcwallet/internal/output"
)

// lockCmd ends the cached session.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Forget the cached root key",
	Long: `End the cached session so the next command asks for the keystore
password again. Running servers keep their own unlocked key until stopped.`,
	Example: `  brcwallet lock`,
	RunE:    runLock,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(lockCmd)
}

func runLock(cmd *cobra.Command, _ []string) error {
	cache := sessionCache()
	result := struct {
		Available bool `json:"available"`
		Ended     bool `json:"ended"`
	}{Available: cache.Available()}

	if result.Available {
		result.Ended = cache.Valid(sessionName)
		if err := cache.End(sessionName); err != nil {
			return err
		}
	}

	return cmdFormatter(cmd).Result(result, func(w io.Writer) error {
		switch {
		case !result.Available:
			output.Infof(w, "Session caching is not available (keyring unavailable)")
		case result.Ended:
			output.Successf(w, "Session ended")
		default:
			output.Infof(w, "No active session")
		}
		return nil
	})
}
