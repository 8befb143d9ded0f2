package schema

import (
	"strconv"
	"strings"
)

// headerArtifacts lists the fragments SQL*Plus spools leave in CSV headers,
// removed in this order. The concatenation markers must go before the bare
// quotes they contain.
var headerArtifacts = []string{
	"'||", // 'A'||','||'B'
	"||'",
	"'",
	`"`,
	"[",
	"]",
	" ",
}

// CleanHeader removes known header artifacts from a single header.
func CleanHeader(h string) string {
	for _, a := range headerArtifacts {
		h = strings.ReplaceAll(h, a, "")
	}
	return strings.TrimSpace(h)
}

// CleanHeaders cleans every header and re-splits the result on commas, so a
// concatenated header such as 'A'||','||'B' yields two columns. A header that
// cleans to nothing becomes COLUMN_<n>, n being its 1-based position, so the
// result stays aligned with the data.
func CleanHeaders(headers []string) []string {
	var out []string
	for _, h := range headers {
		for _, part := range strings.Split(CleanHeader(h), ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				part = "COLUMN_" + strconv.Itoa(len(out)+1)
			}
			out = append(out, part)
		}
	}
	return out
}
