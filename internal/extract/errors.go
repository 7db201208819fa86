package extract

import (
	"fmt"
	"strings"
)

// previewLimit bounds how much candidate text an error may carry.
const previewLimit = 200

// Preview truncates s for inclusion in errors and logs.
func Preview(s string) string {
	if len(s) <= previewLimit {
		return s
	}
	return s[:previewLimit] + "..."
}

// MalformedOutputError means no parse succeeded even after repair.
// It carries bounded previews of both candidates for diagnosis.
type MalformedOutputError struct {
	RawPreview      string
	RepairedPreview string
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed model output: raw=%q repaired=%q", e.RawPreview, e.RepairedPreview)
}

// IncompleteOutputError means the output parsed but required fields are
// absent. Missing holds exactly the absent field names.
type IncompleteOutputError struct {
	Missing []string
}

func (e *IncompleteOutputError) Error() string {
	return "incomplete model output: missing fields: " + strings.Join(e.Missing, ", ")
}

// TruncationError means a token-limit cutoff could not be repaired into
// parseable JSON.
type TruncationError struct {
	Preview string
}

func (e *TruncationError) Error() string {
	return fmt.Sprintf("unrepairable truncated output: %q", e.Preview)
}
