package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/dop251/goja"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

//go:embed stealth.js
var scriptTemplate string

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Build validates p and renders the masking script. The parameter object is
// serialized once and bound as P inside a closure, so nothing leaks to the
// page's global scope. The result is parsed before it is returned.
func Build(p Params) (string, error) {
	if err := p.Validate(); err != nil {
		return "", fmt.Errorf("stealth: invalid parameters: %w", err)
	}
	blob, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("stealth: failed to encode parameters: %w", err)
	}

	var b strings.Builder
	b.Grow(len(scriptTemplate) + len(blob) + 64)
	b.WriteString("(function () {\nvar P = ")
	b.Write(blob)
	b.WriteString(";\n")
	b.WriteString(scriptTemplate)
	b.WriteString("\n})();")
	src := b.String()

	if _, err := goja.Compile("stealth.js", src, false); err != nil {
		return "", fmt.Errorf("stealth: generated script does not parse: %w", err)
	}
	return src, nil
}

// AcceptLanguage renders the Accept-Language value for a language list,
// e.g. "en-US,en;q=0.9".
func AcceptLanguage(languages []string) string {
	var b strings.Builder
	for i, l := range languages {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(l)
		if i > 0 {
			q := 1.0 - 0.1*float64(i)
			if q < 0.1 {
				q = 0.1
			}
			fmt.Fprintf(&b, ";q=%.1f", q)
		}
	}
	return b.String()
}

// Apply returns the protocol-level half of the persona: user agent, platform,
// Accept-Language, timezone and locale. It runs once per surface, before the
// first navigation.
func Apply(p Params, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying device persona.",
		zap.String("family", string(p.Family)),
		zap.String("platform", p.Platform),
		zap.String("timezone", p.Timezone),
	)

	return chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			err := emulation.SetUserAgentOverride(p.UserAgent).
				WithPlatform(p.Platform).
				WithAcceptLanguage(AcceptLanguage(p.Languages)).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("stealth: failed to override user agent: %w", err)
			}
			return nil
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := emulation.SetTimezoneOverride(p.Timezone).Do(ctx); err != nil {
				return fmt.Errorf("stealth: failed to override timezone: %w", err)
			}
			return nil
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := emulation.SetLocaleOverride().WithLocale(p.Locale).Do(ctx); err != nil {
				return fmt.Errorf("stealth: failed to override locale: %w", err)
			}
			return nil
		}),
	}
}
