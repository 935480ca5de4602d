// File: internal/pocket/report.go
package pocket

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/xkilldash9x/humshakals/api/schemas"
)

const (
	reportTimestampLayout = "1/2/2006, 3:04:05 PM"
	reportTimeLayout      = "3:04:05 PM"
	filenameDateLayout    = "02-01-2006-15-04-05"
)

var (
	nonAlnum   = regexp.MustCompile(`[^a-zA-Z0-9]`)
	dashRun    = regexp.MustCompile(`-+`)
	dashBorder = regexp.MustCompile(`^-|-$`)
)

// CleanString reduces s to lowercase alphanumerics separated by single dashes.
func CleanString(s string) string {
	s = nonAlnum.ReplaceAllString(s, "-")
	s = dashRun.ReplaceAllString(s, "-")
	s = dashBorder.ReplaceAllString(s, "")
	return strings.ToLower(s)
}

// ReportFilename returns the file name a device's report is saved under.
func ReportFilename(deviceName string, now time.Time) string {
	return fmt.Sprintf("%s-Report-%s.txt", CleanString(deviceName), now.Format(filenameDateLayout))
}

// Report renders the plain-text pocket report for one device. Empty sections
// are omitted.
func Report(deviceName string, events []schemas.CaughtEvent, now time.Time) string {
	var b strings.Builder
	b.WriteString("DevTools Pocket Report\n")
	fmt.Fprintf(&b, "Device: %s\n", deviceName)
	fmt.Fprintf(&b, "Timestamp: %s\n", now.Format(reportTimestampLayout))
	b.WriteString(strings.Repeat("=", 50))
	b.WriteString("\n\n")

	errs, logs, network := partition(events)

	consoleSection := func(title string, evs []schemas.CaughtEvent) {
		if len(evs) == 0 {
			return
		}
		fmt.Fprintf(&b, "--- %s (%d) ---\n\n", title, len(evs))
		for i, ev := range evs {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, ev.Timestamp.Format(reportTimeLayout))
			source := ev.Source
			if source == "" {
				source = "unknown"
			}
			line := "?"
			if ev.Line != 0 {
				line = fmt.Sprint(ev.Line)
			}
			fmt.Fprintf(&b, "Location: %s (Line %s)\n", source, line)
			fmt.Fprintf(&b, "Message: %s\n\n", ev.Message)
		}
	}
	consoleSection("CONSOLE ERRORS", errs)
	consoleSection("CONSOLE LOGS", logs)

	if len(network) > 0 {
		fmt.Fprintf(&b, "--- NETWORK REQUESTS (%d) ---\n\n", len(network))
		for i, ev := range network {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, ev.Timestamp.Format(reportTimeLayout))
			fmt.Fprintf(&b, "URL: %s\n", ev.URL)
			fmt.Fprintf(&b, "Details: %s\n\n", ev.Message)
		}
	}
	return b.String()
}

func partition(events []schemas.CaughtEvent) (errs, logs, network []schemas.CaughtEvent) {
	for _, ev := range events {
		switch ev.Type {
		case schemas.EventConsoleError:
			errs = append(errs, ev)
		case schemas.EventConsoleLog:
			logs = append(logs, ev)
		case schemas.EventNetwork:
			network = append(network, ev)
		}
	}
	return errs, logs, network
}

// Counts returns the number of captured events per type.
func Counts(events []schemas.CaughtEvent) map[schemas.EventType]int {
	out := map[schemas.EventType]int{
		schemas.EventConsoleError: 0,
		schemas.EventConsoleLog:   0,
		schemas.EventNetwork:      0,
	}
	for _, ev := range events {
		out[ev.Type]++
	}
	return out
}
