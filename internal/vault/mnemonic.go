package vault

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

var (
	// ErrInvalidWordCount indicates the mnemonic must be 12 or 24 words.
	ErrInvalidWordCount = errors.New("word count must be 12 or 24")

	// ErrInvalidMnemonic indicates the mnemonic is not valid.
	ErrInvalidMnemonic = errors.New("invalid mnemonic phrase")

	whitespaceRegex   = regexp.MustCompile(`\s+`)
	numberedListRegex = regexp.MustCompile(`(?m)^\s*\d+[\.\)\:]\s*`)
)

// IdentityPath is the BIP32 path of the wallet root key, m/44'/236'/0'.
//
//nolint:gochecknoglobals // fixed derivation path
var IdentityPath = []uint32{
	bip32.FirstHardenedChild + 44,
	bip32.FirstHardenedChild + 236,
	bip32.FirstHardenedChild + 0,
}

// MaxTypoDistance bounds word suggestions.
const MaxTypoDistance = 2

// GenerateMnemonic creates a BIP39 phrase of 12 or 24 words.
func GenerateMnemonic(wordCount int) (string, error) {
	var bitSize int
	switch wordCount {
	case 12:
		bitSize = 128
	case 24:
		bitSize = 256
	default:
		return "", ErrInvalidWordCount
	}

	entropy, err := bip39.NewEntropy(bitSize)
	if err != nil {
		return "", err
	}
	defer Zero(entropy)

	return bip39.NewMnemonic(entropy)
}

// NormalizeMnemonic lowercases the phrase, strips list numbering and commas,
// and collapses whitespace.
func NormalizeMnemonic(input string) string {
	input = strings.ToLower(input)
	input = numberedListRegex.ReplaceAllString(input, " ")
	input = strings.ReplaceAll(input, ",", " ")
	input = whitespaceRegex.ReplaceAllString(input, " ")
	return strings.TrimSpace(input)
}

// ValidateMnemonic checks word count, words, and checksum.
func ValidateMnemonic(mnemonic string) error {
	normalized := NormalizeMnemonic(mnemonic)
	words := strings.Fields(normalized)
	if len(words) != 12 && len(words) != 24 {
		return ErrInvalidMnemonic
	}
	if _, err := bip39.MnemonicToByteArray(normalized); err != nil {
		return ErrInvalidMnemonic
	}
	return nil
}

// RootKeyFromMnemonic derives the wallet root key at IdentityPath from a
// BIP39 phrase and optional passphrase.
func RootKeyFromMnemonic(mnemonic, passphrase string) (*secp256k1.PrivateKey, error) {
	if err := ValidateMnemonic(mnemonic); err != nil {
		return nil, err
	}

	seed := bip39.NewSeed(NormalizeMnemonic(mnemonic), passphrase)
	defer Zero(seed)

	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("creating master key: %w", err)
	}
	for _, idx := range IdentityPath {
		if key, err = key.NewChildKey(idx); err != nil {
			return nil, fmt.Errorf("deriving child %d: %w", idx, err)
		}
	}
	defer Zero(key.Key)

	return secp256k1.PrivKeyFromBytes(key.Key), nil
}

// SuggestWord returns the closest BIP39 word within MaxTypoDistance, or "".
func SuggestWord(input string) string {
	input = strings.ToLower(input)

	minDist := math.MaxInt
	var suggestion string
	for _, word := range bip39.GetWordList() {
		dist := levenshtein.ComputeDistance(input, word)
		if dist == 0 {
			return word
		}
		if dist < minDist {
			minDist = dist
			suggestion = word
		}
	}

	if minDist <= MaxTypoDistance {
		return suggestion
	}
	return ""
}

// UnknownWords returns the words of a phrase that are not in the BIP39 list.
func UnknownWords(mnemonic string) []string {
	var unknown []string
	for _, w := range strings.Fields(NormalizeMnemonic(mnemonic)) {
		if _, ok := bip39.GetWordIndex(w); !ok {
			unknown = append(unknown, w)
		}
	}
	return unknown
}
