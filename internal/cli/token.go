package cli

import (
	"errors"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/brcwallet/internal/access"
	"github.com/mrz1836/brcwallet/internal/chain"
	"github.com/mrz1836/brcwallet/internal/config"
	"github.com/mrz1836/brcwallet/internal/output"
	"github.com/mrz1836/brcwallet/internal/server"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	tokenLabel        string
	tokenOriginator   string
	tokenOps          string
	tokenMaxPerAction string
	tokenMaxDaily     string
	tokenExpires      time.Duration
)

// tokenCmd is the parent command for server access tokens.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage bearer tokens for the HTTP server",
	Long: `Issue, list and revoke the bearer tokens that applications present to
'brcwallet serve' when server.require_token is set.

A token can be bound to one originator, limited to a list of operations,
and capped in how many satoshis the actions it creates may send, per
action and per day. Only a hash-derived ID and an HMAC of the policy are
stored; the token itself is shown once.`,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a new token",
	Example: `  brcwallet token issue --label shop --originator shop.example.com --max-daily 0.01
  brcwallet token issue --label signer --ops getPublicKey,createSignature --expires 720h`,
	RunE: runTokenIssue,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List issued tokens",
	RunE:  runTokenList,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var tokenRevokeCmd = &cobra.Command{
	Use:     "revoke <id>",
	Short:   "Revoke a token",
	Example: `  brcwallet token revoke tok_0123456789ab`,
	Args:    cobra.ExactArgs(1),
	RunE:    runTokenRevoke,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	tokenIssueCmd.Flags().StringVar(&tokenLabel, "label", "", "human-readable label")
	tokenIssueCmd.Flags().StringVar(&tokenOriginator, "originator", "", "bind the token to this originator")
	tokenIssueCmd.Flags().StringVar(&tokenOps, "ops", "", "comma-separated operations the token may call (default all)")
	tokenIssueCmd.Flags().StringVar(&tokenMaxPerAction, "max-per-action", "", "maximum BSV sent by one createAction")
	tokenIssueCmd.Flags().StringVar(&tokenMaxDaily, "max-daily", "", "maximum BSV sent per UTC day")
	tokenIssueCmd.Flags().DurationVar(&tokenExpires, "expires", 0, "token lifetime (0 never expires)")

	tokenCmd.AddCommand(tokenIssueCmd, tokenListCmd, tokenRevokeCmd)
	rootCmd.AddCommand(tokenCmd)
}

func tokenStore() *access.FileStore {
	return access.NewFileStore(config.TokensPath(home()))
}

func runTokenIssue(cmd *cobra.Command, _ []string) error {
	policy, err := tokenPolicy()
	if err != nil {
		return err
	}
	if tokenExpires < 0 {
		return walleterr.Wrap(walleterr.ErrInvalidInput, "--expires must not be negative")
	}

	token, cred, err := tokenStore().Issue(tokenLabel, tokenOriginator, policy, tokenExpires)
	if err != nil {
		return walleterr.Wrap(err, "issuing token")
	}
	logger.Debug("issued token %s", cred.ID)

	result := struct {
		Token      string             `json:"token"`
		Credential *access.Credential `json:"credential"`
	}{token, cred}

	return cmdFormatter(cmd).Result(result, func(w io.Writer) error {
		output.Field(w, "Token", token)
		output.Field(w, "ID", cred.ID)
		if cred.Originator != "" {
			output.Field(w, "Originator", cred.Originator)
		}
		output.Field(w, "Operations", describeOps(cred.Policy.Operations))
		output.Field(w, "Per action", describeCap(cred.Policy.MaxPerActionSat))
		output.Field(w, "Per day", describeCap(cred.Policy.MaxDailySat))
		output.Field(w, "Expires", describeExpiry(cred))
		outln(w)
		output.Warnf(w, "Store the token now; it cannot be shown again.")
		return nil
	})
}

// tokenPolicy builds a policy from the issue flags.
func tokenPolicy() (access.Policy, error) {
	var policy access.Policy
	if tokenOps != "" {
		known := server.Operations()
		for _, op := range strings.Split(tokenOps, ",") {
			op = strings.TrimSpace(op)
			if op == "" {
				continue
			}
			if !slices.Contains(known, op) {
				return policy, walleterr.WithContext(
					walleterr.Wrap(walleterr.ErrInvalidInput, "unknown operation"),
					map[string]string{"operation": op})
			}
			policy.Operations = append(policy.Operations, op)
		}
	}

	var err error
	if tokenMaxPerAction != "" {
		if policy.MaxPerActionSat, err = chain.ParseBSV(tokenMaxPerAction); err != nil {
			return policy, err
		}
	}
	if tokenMaxDaily != "" {
		if policy.MaxDailySat, err = chain.ParseBSV(tokenMaxDaily); err != nil {
			return policy, err
		}
	}
	return policy, nil
}

func runTokenList(cmd *cobra.Command, _ []string) error {
	creds, err := tokenStore().List()
	if err != nil {
		return walleterr.Wrap(err, "listing tokens")
	}
	if creds == nil {
		creds = []*access.Credential{}
	}

	return cmdFormatter(cmd).Result(creds, func(w io.Writer) error {
		if len(creds) == 0 {
			output.Infof(w, "No tokens issued")
			return nil
		}
		t := output.NewTable("ID", "LABEL", "ORIGINATOR", "OPERATIONS", "PER DAY", "EXPIRES")
		for _, c := range creds {
			originator := c.Originator
			if originator == "" {
				originator = "any"
			}
			t.AddRow(c.ID, c.Label, originator, describeOps(c.Policy.Operations),
				describeCap(c.Policy.MaxDailySat), describeExpiry(c))
		}
		return t.Render(w)
	})
}

func runTokenRevoke(cmd *cobra.Command, args []string) error {
	id := args[0]
	if err := tokenStore().Revoke(id); err != nil {
		switch {
		case errors.Is(err, access.ErrTokenNotFound):
			return walleterr.WithContext(walleterr.Wrap(walleterr.ErrInvalidInput, "token not found"),
				map[string]string{"id": id})
		case errors.Is(err, access.ErrInvalidID):
			return walleterr.WithSuggestion(
				walleterr.WithContext(walleterr.WithCause(walleterr.ErrInvalidInput, err), map[string]string{"id": id}),
				"list token IDs with: brcwallet token list")
		}
		return walleterr.Wrap(err, "revoking token")
	}

	return cmdFormatter(cmd).Result(map[string]string{"revoked": id}, func(w io.Writer) error {
		output.Successf(w, "Revoked %s", id)
		return nil
	})
}

func describeOps(ops []string) string {
	if len(ops) == 0 {
		return "all"
	}
	return strings.Join(ops, ",")
}

func describeCap(sats uint64) string {
	if sats == 0 {
		return "unlimited"
	}
	return chain.FormatSatoshis(sats) + " BSV"
}

func describeExpiry(c *access.Credential) string {
	switch {
	case c.ExpiresAt.IsZero():
		return "never"
	case c.IsExpired():
		return "expired"
	default:
		return c.ExpiresAt.Local().Format(time.DateTime)
	}
}
