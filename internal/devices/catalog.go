// File: internal/devices/catalog.go
package devices

import "github.com/xkilldash9x/humshakals/api/schemas"

// User agents shared by several catalog entries.
const (
	uaIOS17     = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1"
	uaIOS18     = "Mozilla/5.0 (iPhone; CPU iPhone OS 18_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.0 Mobile/15E148 Safari/604.1"
	uaIPadOS17  = "Mozilla/5.0 (iPad; CPU OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1"
	uaWindows   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/100.0.0.0 Safari/537.36"
	uaMacSafari = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Safari/605.1.15"
)

func phone(id, name string, w, h int64, dpr float64, ua string) schemas.DeviceProfile {
	return schemas.DeviceProfile{
		ID: id, Name: name, Width: w, Height: h, DPR: dpr, UserAgent: ua,
		Type: schemas.DevicePhone, IsTouchCapable: true, IsMobileCapable: true,
	}
}

func tablet(id, name string, w, h int64, dpr float64, ua string) schemas.DeviceProfile {
	d := phone(id, name, w, h, dpr, ua)
	d.Type = schemas.DeviceTablet
	return d
}

func desktop(id, name string, w, h int64, dpr float64, ua string) schemas.DeviceProfile {
	return schemas.DeviceProfile{
		ID: id, Name: name, Width: w, Height: h, DPR: dpr, UserAgent: ua,
		Type: schemas.DeviceDesktop,
	}
}

// builtins is the fixed catalog, in display order.
var builtins = []schemas.DeviceProfile{
	// Apple phones
	phone("10003", "iPhone SE", 375, 667, 2, uaIOS17),
	phone("10008", "iPhone 12 Pro", 390, 844, 3, uaIOS17),
	phone("10009", "iPhone 13 Pro Max", 428, 926, 3, uaIOS17),
	phone("10010", "iPhone 14 Pro Max", 430, 932, 3, uaIOS17),
	phone("10015", "iPhone 16 Pro Max", 440, 956, 3, uaIOS18),

	// Google phones
	phone("20001", "Pixel 5", 393, 851, 2.75,
		"Mozilla/5.0 (Linux; Android 12; Pixel 5) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/100.0.0.0 Mobile Safari/537.36"),
	phone("20002", "Pixel 7", 412, 915, 2.625,
		"Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Mobile Safari/537.36"),

	// Samsung phones
	phone("30001", "Galaxy S21", 360, 800, 3,
		"Mozilla/5.0 (Linux; Android 12; SM-G991B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/100.0.0.0 Mobile Safari/537.36"),
	phone("30002", "Galaxy S22 Ultra", 384, 824, 3,
		"Mozilla/5.0 (Linux; Android 12; SM-S908B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/100.0.0.0 Mobile Safari/537.36"),
	phone("30003", "Galaxy S25 Ultra", 412, 915, 3.5,
		"Mozilla/5.0 (Linux; Android 15; SM-S938B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"),
	phone("30004", "Galaxy S25", 393, 873, 3,
		"Mozilla/5.0 (Linux; Android 15; SM-S931B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"),

	// Apple tablets
	tablet("10011", "iPad Air", 820, 1180, 2, uaIPadOS17),
	tablet("10012", `iPad Pro 11"`, 834, 1194, 2, uaIPadOS17),
	tablet("10013", `iPad Pro 12.9"`, 1024, 1366, 2, uaIPadOS17),
	tablet("10016", `iPad Pro 13" M4`, 1032, 1376, 2, uaIPadOS17),

	// Samsung tablets
	tablet("30010", "Galaxy Tab S7", 800, 1280, 2,
		"Mozilla/5.0 (Linux; Android 11; SM-T870) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/100.0.0.0 Safari/537.36"),

	// Desktops
	desktop("90001", "Desktop HD", 1280, 800, 1, uaWindows),
	desktop("90002", "Desktop 1080p", 1920, 1080, 1, uaWindows),
	desktop("90003", "Desktop 1440p", 2560, 1440, 1, uaWindows),
	desktop("90004", "Desktop 4K", 3840, 2160, 1, uaWindows),
	// Effective CSS size of a 1920x1080 panel at 150% OS scaling.
	desktop("90005", "Desktop 1080p @150%", 1280, 720, 1.5, uaWindows),
	desktop("90006", "Desktop 1200p @150%", 1280, 800, 1.5, uaWindows),
	desktop("90007", "Lenovo Small Thinkpad", 1280, 585, 1.5, uaWindows),

	// MacBooks
	desktop("90010", "MacBook Air", 1440, 900, 2, uaMacSafari),
	desktop("90011", `MacBook Pro 14"`, 1512, 982, 2, uaMacSafari),
	desktop("90012", `MacBook Pro 16"`, 1728, 1117, 2, uaMacSafari),
}

// Builtins returns a copy of the fixed catalog.
func Builtins() []schemas.DeviceProfile {
	out := make([]schemas.DeviceProfile, len(builtins))
	copy(out, builtins)
	return out
}
