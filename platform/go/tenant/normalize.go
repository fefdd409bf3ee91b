package tenant

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

var (
	slugPattern     = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	labelPattern    = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

// NormalizeSlug trims whitespace, lowercases the value, and ensures it matches
// the canonical URL-safe slug pattern required for public identifiers.
func NormalizeSlug(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", errors.New("slug is required")
	}

	normalized := strings.ToLower(trimmed)
	if !slugPattern.MatchString(normalized) {
		return "", fmt.Errorf("invalid slug %q: must match ^[a-z0-9]+(?:-[a-z0-9]+)*$", input)
	}

	return normalized, nil
}

// NormalizeDomain lowercases a hostname, strips any port and trailing dot, and
// checks that every label is a valid DNS label.
func NormalizeDomain(input string) (string, error) {
	host := strings.ToLower(strings.TrimSpace(input))
	if host == "" {
		return "", errors.New("domain is required")
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")

	if len(host) > 253 {
		return "", fmt.Errorf("invalid domain %q: too long", input)
	}

	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return "", fmt.Errorf("invalid domain %q: must contain at least two labels", input)
	}
	for _, label := range labels {
		if !labelPattern.MatchString(label) {
			return "", fmt.Errorf("invalid domain %q: bad label %q", input, label)
		}
	}

	return host, nil
}

// NormalizeCurrency uppercases and validates an ISO-4217 alphabetic code.
func NormalizeCurrency(input string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(input))
	if !currencyPattern.MatchString(code) {
		return "", fmt.Errorf("invalid currency %q: must be a three letter ISO-4217 code", input)
	}
	return code, nil
}
