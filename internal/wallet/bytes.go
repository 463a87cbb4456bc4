package wallet

import (
	"encoding/json"
	"strconv"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// Bytes is binary data carried in JSON as an array of byte values, the
// encoding BRC-100 substrates use.
type Bytes []byte

// MarshalJSON encodes b as [n, n, ...].
func (b Bytes) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("[]"), nil
	}
	out := make([]byte, 0, 2+len(b)*4)
	out = append(out, '[')
	for i, v := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(v), 10)
	}
	return append(out, ']'), nil
}

// UnmarshalJSON decodes an array of integers in 0..255.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = nil
		return nil
	}
	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return walleterr.Wrap(walleterr.ErrInvalidInput, "byte array expected")
	}
	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return walleterr.WithContext(walleterr.Wrap(walleterr.ErrInvalidInput, "byte value out of range"),
				map[string]string{"index": strconv.Itoa(i)})
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}
