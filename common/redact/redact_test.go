package redact_test

import (
	"reflect"
	"testing"

	"github.com/patrikpihlstrom/anna-worker/common/redact"
)

func TestString_RedactsSensitiveValues(t *testing.T) {
	line := "python3 main.py -t super-secret-token-12345 --host http://anna"
	got := redact.String(line, "super-secret-token-12345")
	const want = "python3 main.py -t [REDACTED] --host http://anna"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestString_SkipsShortValues(t *testing.T) {
	line := "abc token"
	if got := redact.String(line, "abc"); got != line {
		t.Fatalf("short value should not be redacted; got %q", got)
	}
}

func TestArgs(t *testing.T) {
	in := []string{"python3", "main.py", "-t", "tok_live_xxx", "-s", "site", "--token", "other"}
	got := redact.Args(in, "-t", "--token")
	want := []string{"python3", "main.py", "-t", "[REDACTED]", "-s", "site", "--token", "[REDACTED]"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if in[3] != "tok_live_xxx" {
		t.Fatal("input slice was modified")
	}
}

func TestArgs_TrailingFlag(t *testing.T) {
	in := []string{"run", "-t"}
	got := redact.Args(in, "-t")
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("trailing flag without value should be left alone, got %v", got)
	}
}
