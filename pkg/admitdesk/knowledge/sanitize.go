// Package knowledge implements the document ingestion pipeline: upload,
// dispatch to the external transcription worker, and correlation of the
// asynchronous results back into the agent's knowledge store.
package knowledge

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	unsafeCharRe   = regexp.MustCompile(`[^a-zA-Z0-9.-]`)
	repeatUnderRe  = regexp.MustCompile(`_+`)
)

// SanitizeFileName normalizes a display name for storage: decomposed
// normalization with diacritics stripped, anything outside [a-zA-Z0-9.-]
// replaced by underscores, repeats collapsed, leading/trailing trimmed.
func SanitizeFileName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, name)
	if err != nil {
		plain = name
	}

	plain = unsafeCharRe.ReplaceAllString(plain, "_")
	plain = repeatUnderRe.ReplaceAllString(plain, "_")
	plain = strings.Trim(plain, "_")
	if plain == "" {
		plain = "document"
	}
	return plain
}
