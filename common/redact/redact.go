// Package redact strips credentials from strings before they reach a log line.
//
// The worker passes the remote queue token to every sandbox on its command
// line, so launch commands must go through Args or String before logging.
// Redaction is best-effort and relies on callers naming the sensitive values.
package redact

import (
	"strings"
)

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Args returns a copy of args in which the value following any of the given
// flags is replaced by [REDACTED]. The input slice is not modified.
//
//	redact.Args([]string{"run", "-t", "secret"}, "-t") // ["run", "-t", "[REDACTED]"]
func Args(args []string, flags ...string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		for _, f := range flags {
			if out[i] == f {
				out[i+1] = placeholder
				i++
				break
			}
		}
	}
	return out
}
