// Package environment provides helpers for layering environment variables on
// top of file-based configuration.
//
// Lookups never call os.Exit. Required variables and malformed values return
// an error naming the variable so the caller can decide how to fail.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StringOr returns the value of the named environment variable, or defaultValue
// if the variable is unset or empty.
func StringOr(name, defaultValue string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultValue
}

// RequiredString returns the value of the named environment variable or an error
// if it is unset or empty.
func RequiredString(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("required environment variable %q is not set", name)
	}
	return v, nil
}

// OverrideString replaces *dst with the named variable when it is set and
// non-empty. Leading and trailing whitespace is trimmed.
func OverrideString(dst *string, name string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		*dst = v
	}
}

// OverrideInt replaces *dst with the named variable parsed as a decimal
// integer. An unset variable leaves *dst untouched; an unparsable one is an
// error and also leaves *dst untouched.
func OverrideInt(dst *int, name string) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("environment variable %s: %w", name, err)
	}
	*dst = n
	return nil
}

// OverrideDuration replaces *dst with the named variable parsed by
// time.ParseDuration (e.g. "2s", "1m").
func OverrideDuration(dst *time.Duration, name string) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("environment variable %s: %w", name, err)
	}
	*dst = d
	return nil
}

// OverrideBool replaces *dst with the named variable parsed by
// strconv.ParseBool.
func OverrideBool(dst *bool, name string) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("environment variable %s: %w", name, err)
	}
	*dst = b
	return nil
}
