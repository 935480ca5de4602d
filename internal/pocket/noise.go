// File: internal/pocket/noise.go
package pocket

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultNoise lists the framework, tooling and third-party chatter that is
// never worth capturing. Patterns are globs matched against the lowercased
// message and source.
var DefaultNoise = []string{
	"*download the react devtools*",
	"*react devtools*",
	`*\[hmr\]*`,
	`*\[vite\]*`,
	`*\[webpack-dev-server\]*`,
	"*webpack hot*",
	"*hot module replacement*",
	"*googletagmanager*",
	"*google-analytics*",
	"*gtag(*",
	"*doubleclick.net*",
	"*connect.facebook.net*",
	"*facebook pixel*",
	"*fbevents*",
	"*hotjar*",
	"*devtools failed to load source map*",
	"*source map error*",
	"*sourcemap*",
}

// cssFragment matches messages that open with a console styling declaration,
// e.g. "color: #fff; font-weight: bold".
var cssFragment = regexp.MustCompile(`^\s*(color|background(-color)?|font(-[a-z]+)?|padding|margin|border(-[a-z]+)?|text-[a-z]+|line-height)\s*:`)

type noiseFilter struct {
	globs []glob.Glob
}

func newNoiseFilter(extra []string) (*noiseFilter, error) {
	patterns := make([]string, 0, len(DefaultNoise)+len(extra))
	patterns = append(patterns, DefaultNoise...)
	for _, p := range extra {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !strings.ContainsAny(p, "*?[") {
			p = "*" + p + "*"
		}
		patterns = append(patterns, p)
	}

	f := &noiseFilter{globs: make([]glob.Glob, 0, len(patterns))}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pocket: invalid noise pattern %q: %w", p, err)
		}
		f.globs = append(f.globs, g)
	}
	return f, nil
}

// isNoise reports whether a console entry should be dropped before
// classification.
func (f *noiseFilter) isNoise(message, source string) bool {
	if strings.Contains(message, "%c") || cssFragment.MatchString(strings.ToLower(message)) {
		return true
	}
	msg := strings.ToLower(message)
	src := strings.ToLower(source)
	for _, g := range f.globs {
		if g.Match(msg) || (src != "" && g.Match(src)) {
			return true
		}
	}
	return false
}
