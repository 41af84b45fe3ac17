package job

import (
	"regexp"
	"strconv"
	"strings"
)

// LogsUnavailable replaces the log of a job whose container could not be read.
const LogsUnavailable = "unable to get logs from container"

// ansiSGR matches terminal color/formatting sequences such as "\x1b[92m".
var ansiSGR = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// StripANSI removes color escape sequences from captured output.
func StripANSI(s string) string {
	return ansiSGR.ReplaceAllString(s, "")
}

// Outcome applies the completion heuristic to a job's captured output.
//
// The job process prints a final "completed/total" marker. The trailing
// non-empty line is split on "/": fewer than two parts or non-integer
// counts yield StatusError, matching counts yield StatusDone, anything else
// StatusFailed.
func Outcome(log string) Status {
	parts := strings.Split(lastLine(log), "/")
	if len(parts) < 2 {
		return StatusError
	}
	completed, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return StatusError
	}
	total, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return StatusError
	}
	if len(parts) != 2 || completed != total {
		return StatusFailed
	}
	return StatusDone
}

func lastLine(s string) string {
	s = strings.TrimRight(s, " \t\r\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
