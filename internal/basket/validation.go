package basket

import (
	"regexp"
	"strings"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

const (
	minBasketNameLength = 5
	maxBasketNameLength = 300
	maxTagLength        = 300
)

var basketNameRegex = regexp.MustCompile(`^[a-z0-9 ]+$`)

// ValidateBasketName checks a basket name supplied by an application.
func ValidateBasketName(name string) error {
	return validateBasketName(name, false)
}

func validateBasketName(name string, allowDefault bool) error {
	if allowDefault && name == DefaultBasket {
		return nil
	}

	invalid := func(reason string) error {
		return walleterr.WithContext(
			walleterr.Wrap(walleterr.ErrInvalidBasketName, "%s", reason),
			map[string]string{"basket": name},
		)
	}

	switch {
	case len(name) < minBasketNameLength:
		return invalid("basket names must be at least 5 characters")
	case len(name) > maxBasketNameLength:
		return invalid("basket names must be no more than 300 characters")
	case !basketNameRegex.MatchString(name):
		return invalid("basket names may only contain lowercase letters, numbers, and spaces")
	case strings.TrimSpace(name) != name:
		return invalid("basket names cannot start or end with a space")
	case strings.Contains(name, "  "):
		return invalid("basket names cannot contain consecutive spaces")
	case strings.HasSuffix(name, " basket"):
		return invalid(`no need to end a basket name with " basket"`)
	case name == DefaultBasket:
		return invalid(`"default" is reserved for wallet use`)
	case strings.HasPrefix(name, "admin"):
		return invalid(`names starting with "admin" are reserved`)
	case strings.HasPrefix(name, "p "):
		return invalid(`names starting with "p " are reserved`)
	}
	return nil
}

// NormalizeTags trims and lowercases tags, dropping duplicates.
func NormalizeTags(tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		if t == "" || len(t) > maxTagLength {
			return nil, walleterr.Wrap(walleterr.ErrInvalidInput, "tags must be between 1 and %d characters", maxTagLength)
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

// MatchSet reports whether have satisfies want under mode. An empty want
// matches everything.
func MatchSet(have, want []string, mode QueryMode) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	if mode == QueryModeAll {
		for _, w := range want {
			if _, ok := set[w]; !ok {
				return false
			}
		}
		return true
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

// ParseQueryMode accepts "", "any", or "all". Empty means any.
func ParseQueryMode(s string) (QueryMode, error) {
	switch QueryMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", QueryModeAny:
		return QueryModeAny, nil
	case QueryModeAll:
		return QueryModeAll, nil
	default:
		return "", walleterr.Wrap(walleterr.ErrInvalidInput, "query mode must be %q or %q", QueryModeAny, QueryModeAll)
	}
}

// ValidatePage applies the default limit and checks bounds.
func ValidatePage(offset, limit int) (int, error) {
	if offset < 0 {
		return 0, walleterr.Wrap(walleterr.ErrInvalidInput, "offset must not be negative")
	}
	switch {
	case limit == 0:
		return DefaultLimit, nil
	case limit < 0 || limit > MaxLimit:
		return 0, walleterr.Wrap(walleterr.ErrInvalidInput, "limit must be between 1 and %d", MaxLimit)
	}
	return limit, nil
}
