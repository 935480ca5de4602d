package cdp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/humshakals/internal/config"
)

func TestAllocatorFlags(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		flags := AllocatorFlags(config.BrowserConfig{Headless: true}, "")

		assert.Equal(t, true, flags["headless"])
		assert.Equal(t, false, flags["enable-automation"])
		assert.Equal(t, "AutomationControlled", flags["disable-blink-features"])
		assert.Equal(t, true, flags["disable-site-isolation-trials"])
		assert.Contains(t, flags["disable-features"], "CrossOriginOpenerPolicy,SameSiteByDefaultCookies")
		assert.Contains(t, flags["disable-features"], "site-per-process")
		assert.NotContains(t, flags, "proxy-server")
	})

	t.Run("Headed", func(t *testing.T) {
		flags := AllocatorFlags(config.BrowserConfig{Headless: false}, "")
		assert.Equal(t, false, flags["headless"])
		assert.NotContains(t, flags, "mute-audio")
	})

	t.Run("Proxy", func(t *testing.T) {
		flags := AllocatorFlags(config.BrowserConfig{}, "127.0.0.1:8899")
		assert.Equal(t, "127.0.0.1:8899", flags["proxy-server"])
		assert.Equal(t, true, flags["ignore-certificate-errors"])
	})

	t.Run("CustomArgsOverride", func(t *testing.T) {
		flags := AllocatorFlags(config.BrowserConfig{
			Headless: true,
			Args:     []string{"--lang=de-DE", "--headless=new", "--force-dark-mode", "--"},
		}, "")
		assert.Equal(t, "de-DE", flags["lang"])
		assert.Equal(t, "new", flags["headless"])
		assert.Equal(t, true, flags["force-dark-mode"])
		assert.NotContains(t, flags, "")
	})
}

func TestAllocatorOptions(t *testing.T) {
	base := len(AllocatorOptions(config.BrowserConfig{}, "", ""))
	withExtras := AllocatorOptions(config.BrowserConfig{
		ExecPath: "/usr/bin/chromium", WindowWidth: 1600, WindowHeight: 900,
	}, "/tmp/profile", "")
	assert.Equal(t, base+3, len(withExtras))
}
