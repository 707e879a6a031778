package structured

import (
	"fmt"
	"unicode/utf8"
)

// maxQuotedOutput caps how much of an invalid response is quoted back to the
// backend in a corrective prompt.
const maxQuotedOutput = 500

// truncate shortens s to at most n bytes, backing up so the cut never splits
// a multibyte rune. The quoted text stays valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// rewriteMalformed builds a corrective prompt for output that failed to
// parse as JSON. It quotes the invalid output and the parse error so the
// backend can repair its answer.
func rewriteMalformed(original, raw string, parseErr error) string {
	return fmt.Sprintf(`Your previous response was not valid JSON. Please fix it.

Original request:
%s

Invalid response:
%s

Parse error: %v

Return ONLY a valid JSON object, with no surrounding text or code fences.`,
		original, truncate(raw, maxQuotedOutput), parseErr)
}

// rewriteIncomplete builds a corrective prompt for valid JSON that is
// missing required fields.
func rewriteIncomplete(original, raw string, missing []string) string {
	return fmt.Sprintf(`Your previous response was valid JSON but missing required fields: %v.

Original request:
%s

Incomplete response:
%s

Return a valid JSON object containing ALL required fields.`,
		missing, original, truncate(raw, maxQuotedOutput))
}
