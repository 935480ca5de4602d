// File: internal/pocket/rules.go
package pocket

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/xkilldash9x/humshakals/api/schemas"
)

var numericPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// splitList splits a comma-separated rule value, dropping blanks.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MatchConsoleError reports whether a console error from source is captured.
// An empty filter list matches everything.
func MatchConsoleError(rules schemas.PocketRules, source string) bool {
	filters := splitList(rules.ConsoleFilterText)
	if len(filters) == 0 {
		return true
	}
	src := strings.ToLower(source)
	for _, f := range filters {
		if strings.Contains(src, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

// MatchConsoleLog reports whether a non-error console message is captured.
// Matching is exact after trimming and lowercasing; a purely numeric matcher
// accepts any purely numeric message. An empty list captures nothing.
func MatchConsoleLog(rules schemas.PocketRules, message string) bool {
	matchers := splitList(rules.ConsoleLogMatch)
	if len(matchers) == 0 {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(message))
	numeric := numericPattern.MatchString(msg)
	for _, m := range matchers {
		m = strings.ToLower(m)
		if m == msg {
			return true
		}
		if numeric && numericPattern.MatchString(m) {
			return true
		}
	}
	return false
}

// MatchNetwork reports whether a request URL is captured. The match runs
// against scheme, host and path only.
func MatchNetwork(rules schemas.PocketRules, rawURL string) bool {
	if !rules.IsNetworkEnabled {
		return false
	}
	matchers := splitList(rules.NetworkMatch)
	if len(matchers) == 0 {
		return false
	}
	target := strings.ToLower(stripQuery(rawURL))
	for _, m := range matchers {
		if strings.Contains(target, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

func stripQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
			return rawURL[:i]
		}
		return rawURL
	}
	u.RawQuery, u.Fragment, u.RawFragment, u.ForceQuery = "", "", "", false
	u.User = nil
	return u.String()
}
