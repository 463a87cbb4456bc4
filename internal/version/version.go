// Package version reports the wallet build and checks GitHub for newer
// releases.
package version

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/mrz1836/brcwallet/internal/chain"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// Build information, set with -ldflags "-X".
//
//nolint:gochecknoglobals // linker-injected
var (
	Version   = "dev"
	Commit    = ""
	BuildDate = ""
)

// Release lookup defaults.
const (
	DefaultBaseURL = "https://api.github.com"
	DefaultOwner   = "mrz1836"
	DefaultRepo    = "brcwallet"
	DefaultTimeout = 15 * time.Second
)

// Prefix is prepended to Version in the string the wallet reports.
const Prefix = "brcwallet-"

//nolint:gochecknoglobals // compiled once
var ownerRepoPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// String returns the wallet version as reported by getVersion.
func String() string {
	return Prefix + strings.TrimPrefix(Version, "v")
}

// UserAgent identifies the wallet to remote services.
func UserAgent() string {
	return fmt.Sprintf("brcwallet/%s (%s/%s)", strings.TrimPrefix(Version, "v"), runtime.GOOS, runtime.GOARCH)
}

// Release is a published GitHub release.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
	HTMLURL     string    `json:"html_url"`
}

// Update compares the running build with the latest release.
type Update struct {
	Current   string `json:"current"`
	Latest    string `json:"latest"`
	Available bool   `json:"available"`
	URL       string `json:"url,omitempty"`
}

// CheckerOptions configures a Checker. Zero values select the defaults.
type CheckerOptions struct {
	BaseURL string
	Owner   string
	Repo    string
	Client  chain.ClientOptions
}

// Checker looks up the latest release of a repository.
type Checker struct {
	baseURL string
	owner   string
	repo    string
	client  *chain.JSONClient
}

// NewChecker creates a Checker.
func NewChecker(opts *CheckerOptions) *Checker {
	if opts == nil {
		opts = &CheckerOptions{}
	}
	c := &Checker{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		owner:   opts.Owner,
		repo:    opts.Repo,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.owner == "" {
		c.owner = DefaultOwner
	}
	if c.repo == "" {
		c.repo = DefaultRepo
	}

	clientOpts := opts.Client
	if clientOpts.Timeout <= 0 {
		clientOpts.Timeout = DefaultTimeout
	}
	clientOpts.Header = clientOpts.Header.Clone()
	if clientOpts.Header == nil {
		clientOpts.Header = http.Header{}
	}
	clientOpts.Header.Set("User-Agent", UserAgent())
	c.client = chain.NewJSONClient("github", &clientOpts)
	return c
}

func validateOwnerRepo(owner, repo string) error {
	if !ownerRepoPattern.MatchString(owner) || !ownerRepoPattern.MatchString(repo) {
		return walleterr.WithContext(walleterr.Wrap(walleterr.ErrInvalidInput, "invalid repository name"),
			map[string]string{"repository": owner + "/" + repo})
	}
	return nil
}

// Latest fetches the latest published release.
func (c *Checker) Latest(ctx context.Context) (*Release, error) {
	if err := validateOwnerRepo(c.owner, c.repo); err != nil {
		return nil, err
	}
	var rel Release
	endpoint := c.baseURL + "/repos/" + c.owner + "/" + c.repo + "/releases/latest"
	if err := c.client.Do(ctx, http.MethodGet, endpoint, nil, &rel); err != nil {
		return nil, walleterr.Wrap(err, "fetching latest release")
	}
	if rel.TagName == "" {
		return nil, walleterr.Wrap(walleterr.ErrNetworkError, "release has no tag")
	}
	return &rel, nil
}

// Check reports whether a release newer than current exists.
func (c *Checker) Check(ctx context.Context, current string) (*Update, error) {
	rel, err := c.Latest(ctx)
	if err != nil {
		return nil, err
	}
	return &Update{
		Current:   current,
		Latest:    Normalize(rel.TagName),
		Available: Compare(rel.TagName, current) > 0,
		URL:       rel.HTMLURL,
	}, nil
}

// Compare orders two versions by major, minor and patch, returning 1, 0 or
// -1. Development builds and commit hashes sort before every release.
func Compare(a, b string) int {
	aDev, bDev := isDevelopment(a), isDevelopment(b)
	switch {
	case aDev && bDev:
		return 0
	case aDev:
		return -1
	case bDev:
		return 1
	}

	pa, pb := parts(a), parts(b)
	for i := range pa {
		if pa[i] != pb[i] {
			if pa[i] > pb[i] {
				return 1
			}
			return -1
		}
	}
	return 0
}

// Normalize strips leading "v"s, whitespace, and any pre-release or build
// suffix.
func Normalize(v string) string {
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	return strings.TrimLeft(strings.TrimSpace(v), "v")
}

func isDevelopment(v string) bool {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	return v == "" || v == "dev" || isCommitHash(v)
}

func parts(v string) [3]int {
	var out [3]int
	for i, p := range strings.Split(Normalize(v), ".") {
		n, err := strconv.Atoi(p)
		if i >= len(out) || err != nil {
			break
		}
		out[i] = n
	}
	return out
}

// isCommitHash reports whether s is 7 to 40 hex characters with at least
// one letter, so "1234567" still reads as a number.
func isCommitHash(s string) bool {
	s = strings.TrimSuffix(s, "-dirty")
	if len(s) < 7 || len(s) > 40 {
		return false
	}
	letter := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
			letter = true
		default:
			return false
		}
	}
	return letter
}
