// internal/browser/cdp/allocator.go
package cdp

import (
	"sort"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/humshakals/internal/config"
)

// chromedp's defaults already disable these; the list is extended, not replaced.
const defaultDisabledFeatures = "site-per-process,Translate,BlinkGenPropertyTrees"

// AllocatorFlags returns the command line flags layered over chromedp's
// defaults. Values are either bool or string.
func AllocatorFlags(cfg config.BrowserConfig, proxyAddr string) map[string]interface{} {
	flags := map[string]interface{}{
		"headless":                      cfg.Headless,
		"enable-automation":             false,
		"disable-blink-features":        "AutomationControlled",
		"disable-site-isolation-trials": true,
		"disable-features":              defaultDisabledFeatures + ",CrossOriginOpenerPolicy,SameSiteByDefaultCookies",
		"no-sandbox":                    true,
		"disable-gpu":                   cfg.Headless,
		"autoplay-policy":               "no-user-gesture-required",
		"disable-background-networking": true,
	}
	if cfg.Headless {
		flags["hide-scrollbars"] = true
		flags["mute-audio"] = true
	}
	if proxyAddr != "" {
		flags["proxy-server"] = proxyAddr
		flags["ignore-certificate-errors"] = true
	}
	if cfg.Debug {
		flags["enable-logging"] = "stderr"
		flags["v"] = "1"
	}

	// Configured args win over everything above.
	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			flags[name] = value
		} else {
			flags[name] = true
		}
	}
	return flags
}

// AllocatorOptions builds the exec allocator options for the shared browser
// process.
func AllocatorOptions(cfg config.BrowserConfig, userDataDir, proxyAddr string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	flags := AllocatorFlags(cfg, proxyAddr)
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}

	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if userDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(userDataDir))
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	return opts
}
