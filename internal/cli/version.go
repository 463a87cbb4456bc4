package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mrz1836/brcwallet/internal/chain"
	"github.com/mrz1836/brcwallet/internal/output"
	"github.com/mrz1836/brcwallet/internal/version"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// formatVersion renders build info for humans.
func formatVersion(info BuildInfo) string {
	v, commit, date := info.Version, info.Commit, info.Date
	if v == "" {
		v = "dev"
	}
	if commit == "" {
		commit = "unknown"
	}
	if date == "" {
		date = "unknown"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", v, commit, date)
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var versionCheck bool

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the version and optionally check for a newer release",
	Example: `  brcwallet version
  brcwallet version --check`,
	RunE: runVersion,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "check GitHub for a newer release")
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, _ []string) error {
	info := BuildInfo{Version: version.Version, Commit: version.Commit, Date: version.BuildDate}
	result := struct {
		BuildInfo
		Update *version.Update `json:"update,omitempty"`
	}{BuildInfo: info}

	if versionCheck {
		ctx, cancel := contextWithTimeout(cmd, version.DefaultTimeout)
		defer cancel()
		checker := version.NewChecker(&version.CheckerOptions{
			Client: chain.ClientOptions{Logger: logger},
		})
		update, err := checker.Check(ctx, version.Version)
		if err != nil {
			return err
		}
		result.Update = update
	}

	return cmdFormatter(cmd).Result(result, func(w io.Writer) error {
		outln(w, "brcwallet "+formatVersion(info))
		switch {
		case result.Update == nil:
		case result.Update.Available:
			output.Infof(w, "Version %s is available: %s", result.Update.Latest, result.Update.URL)
		default:
			output.Successf(w, "Up to date")
		}
		return nil
	})
}
