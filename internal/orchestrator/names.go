package orchestrator

import (
	"fmt"
	"strings"
	"time"
)

// ScreenshotName returns the file name for a screenshot of the named device:
// spaces become underscores, followed by _viewport_<unix ms>.png.
func ScreenshotName(deviceName string, now time.Time) string {
	return fmt.Sprintf("%s_viewport_%d.png", strings.ReplaceAll(deviceName, " ", "_"), now.UnixMilli())
}
