package certs

import (
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/mrz1836/brcwallet/internal/keys"
	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

const maxFieldNameLength = 50

func invalid(format string, args ...any) error {
	return walleterr.Wrap(walleterr.ErrInvalidInput, format, args...)
}

// ValidateCertificate checks the structure of a certificate. The signature
// is not verified.
func ValidateCertificate(c *Certificate) error {
	if err := validateBase64("type", c.Type); err != nil {
		return err
	}
	if err := validateBase64("serialNumber", c.SerialNumber); err != nil {
		return err
	}
	if _, err := keys.ParsePublicKeyHex(c.Subject); err != nil {
		return invalid("subject must be a hex public key")
	}
	if _, err := keys.ParsePublicKeyHex(c.Certifier); err != nil {
		return invalid("certifier must be a hex public key")
	}
	if c.KeyringRevealer != "" && c.KeyringRevealer != RevealerCertifier {
		if _, err := keys.ParsePublicKeyHex(c.KeyringRevealer); err != nil {
			return invalid("keyringRevealer must be %q or a hex public key", RevealerCertifier)
		}
	}
	if c.Signature == "" {
		return invalid("signature is required")
	}
	if _, err := hex.DecodeString(c.Signature); err != nil {
		return invalid("signature must be hex")
	}
	if err := ValidateOutpoint(c.RevocationOutpoint); err != nil {
		return err
	}
	for name, value := range c.Fields {
		if err := ValidateFieldName(name); err != nil {
			return err
		}
		if _, err := base64.StdEncoding.DecodeString(value); err != nil {
			return invalid("field %q must be base64", name)
		}
	}
	for name, value := range c.Keyring {
		if _, ok := c.Fields[name]; !ok {
			return invalid("keyring entry %q has no matching field", name)
		}
		if _, err := base64.StdEncoding.DecodeString(value); err != nil {
			return invalid("keyring entry %q must be base64", name)
		}
	}
	return nil
}

// ValidateFieldName checks a certificate field name.
func ValidateFieldName(name string) error {
	if name == "" || len(name) > maxFieldNameLength {
		return invalid("field names must be between 1 and %d bytes", maxFieldNameLength)
	}
	return nil
}

// ValidateOutpoint checks a "txid.index" revocation outpoint.
func ValidateOutpoint(s string) error {
	txid, index, ok := strings.Cut(s, ".")
	if !ok || len(txid) != 2*chainhash.HashSize {
		return invalid("revocationOutpoint %q must be txid.index", s)
	}
	if _, err := chainhash.NewHashFromStr(txid); err != nil {
		return invalid("revocationOutpoint %q has an invalid txid", s)
	}
	if _, err := strconv.ParseUint(index, 10, 32); err != nil {
		return invalid("revocationOutpoint %q has an invalid index", s)
	}
	return nil
}

func validateBase64(name, value string) error {
	if value == "" {
		return invalid("%s is required", name)
	}
	if _, err := base64.StdEncoding.DecodeString(value); err != nil {
		return invalid("%s must be base64", name)
	}
	return nil
}

func page(total, offset, limit int) (start, end int, err error) {
	if offset < 0 {
		return 0, 0, invalid("offset must not be negative")
	}
	switch {
	case limit == 0:
		limit = DefaultLimit
	case limit < 0 || limit > MaxLimit:
		return 0, 0, invalid("limit must be between 1 and %d", MaxLimit)
	}
	start = min(offset, total)
	end = min(start+limit, total)
	return start, end, nil
}
