package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	walleterr "github.com/mrz1836/brcwallet/pkg/errors"
)

// ErrorOutput is the JSON shape of a failed command.
type ErrorOutput struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail mirrors the wallet error plus the process exit code.
type ErrorDetail struct {
	Code        string            `json:"code"`
	Description string            `json:"description"`
	Context     map[string]string `json:"context,omitempty"`
	Suggestion  string            `json:"suggestion,omitempty"`
	ExitCode    int               `json:"exit_code"`
}

// FormatError writes err in the given format. Errors that are not wallet
// errors are reported as INTERNAL_ERROR with their message.
func FormatError(w io.Writer, err error, format Format) error {
	if err == nil {
		return nil
	}
	we := walleterr.From(err)
	detail := ErrorDetail{
		Code:        we.Code,
		Description: we.Description,
		Context:     we.Context,
		Suggestion:  we.Suggestion,
		ExitCode:    walleterr.ExitCode(err),
	}
	if we.Cause != nil && detail.Code == walleterr.ErrInternal.Code {
		detail.Description = err.Error()
	}

	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ErrorOutput{Error: detail})
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", detail.Description)
	if len(detail.Context) > 0 {
		keys := make([]string, 0, len(detail.Context))
		for k := range detail.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("\nDetails:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %s: %s\n", k, detail.Context[k])
		}
	}
	if detail.Suggestion != "" {
		fmt.Fprintf(&sb, "\nSuggestion: %s\n", detail.Suggestion)
	}
	_, werr := io.WriteString(w, sb.String())
	return werr
}
