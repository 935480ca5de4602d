// File: cmd/shell.go
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/xkilldash9x/humshakals/api/schemas"
	"github.com/xkilldash9x/humshakals/internal/browser"
	"github.com/xkilldash9x/humshakals/internal/orchestrator"
	"github.com/xkilldash9x/humshakals/internal/state"
)

const shellHelp = `Commands:
  go <address>            open an address on every device
  status                  list mounted devices
  touch [on|off]          touch emulation (toggles without an argument)
  rotate [on|off]         landscape for mobile devices
  zoom [in|out|<factor>]  preview zoom
  reload [device]         reload one device, or all of them
  retry <device>          reload a device that failed
  back|forward <device>   history navigation
  top <device>            scroll to the top
  mirror <device> on|off  follow the primary device's navigation
  devtools <device>       open DevTools in its own window
  shot [device]           screenshot one device, or all of them
  report <device>         save the captured events as a text report
  events <device>         print the captured events
  clear <device>          drop the captured events
  suite [id]              list suites, or switch the active one
  toggle <device>         add or remove a device from the active suite
  rules                   show the capture rules
  help                    this text
  quit                    end the session
`

var errQuit = errors.New("quit")

var (
	toastColors = map[string]func(a ...interface{}) string{
		"error":   color.New(color.FgRed).SprintFunc(),
		"network": color.New(color.FgYellow).SprintFunc(),
		"log":     color.New(color.FgCyan).SprintFunc(),
		"success": color.New(color.FgGreen).SprintFunc(),
	}
	bold   = color.New(color.Bold).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
	failed = color.New(color.FgRed).SprintFunc()
	warned = color.New(color.FgYellow).SprintFunc()
)

// lockedWriter serializes shell output and asynchronous toasts.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

type shell struct {
	orch *orchestrator.Orchestrator
	out  io.Writer
}

// runShell reads commands from in until quit, EOF or ctx is done. Capture
// notifications are printed between prompts.
func runShell(ctx context.Context, orch *orchestrator.Orchestrator, in io.Reader, out io.Writer) error {
	w := &lockedWriter{w: out}
	sh := &shell{orch: orch, out: w}

	notifications, unsubscribe := orch.Pocket().Subscribe()
	toastsDone := make(chan struct{})
	go func() {
		defer close(toastsDone)
		for n := range notifications {
			sh.toast(n)
		}
	}()
	defer func() {
		unsubscribe()
		<-toastsDone
	}()

	lines := make(chan string)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
	}()

	fmt.Fprintf(w, "%s %s. Type 'help' for commands.\n", bold("humshakals"), orch.AppVersion())
	for {
		fmt.Fprint(w, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(w)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := sh.exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintln(w, failed("error:"), err)
			}
		}
	}
}

func (s *shell) toast(n schemas.Notification) {
	paint, ok := toastColors[n.Kind]
	if !ok {
		paint = fmt.Sprint
	}
	device := ""
	if n.DeviceID != "" {
		if c, err := s.orch.Context(n.DeviceID); err == nil {
			device = c.Device().Name + ": "
		}
	}
	fmt.Fprintf(s.out, "\n%s %s%s\n", paint("["+n.Kind+"]"), device, n.Message)
}

func (s *shell) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "help", "?":
		fmt.Fprint(s.out, shellHelp)
	case "quit", "exit":
		return errQuit
	case "go", "open":
		if len(args) != 1 {
			return errors.New("usage: go <address>")
		}
		if addr := s.orch.Navigate(args[0]); addr != "" {
			fmt.Fprintln(s.out, "opening", addr)
		}
	case "status", "ls":
		s.status()
	case "touch":
		on, err := toggleArg(args, s.orch.Store().Touch())
		if err != nil {
			return err
		}
		if err := s.orch.SetTouch(ctx, on); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "touch", onOff(on))
	case "rotate":
		on, err := toggleArg(args, s.orch.Store().Rotate())
		if err != nil {
			return err
		}
		if err := s.orch.SetRotate(ctx, on); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "rotate", onOff(on))
	case "zoom":
		return s.zoom(args)
	case "reload":
		if len(args) == 0 {
			for _, c := range s.orch.Contexts() {
				if c.IsBlank() {
					continue
				}
				if err := s.orch.Reload(ctx, c.ID()); err != nil {
					return err
				}
			}
			return nil
		}
		return s.orch.Reload(ctx, args[0])
	case "retry", "back", "forward", "top", "devtools", "events", "clear", "report":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <device>", name)
		}
		return s.deviceAction(ctx, name, args[0])
	case "mirror":
		if len(args) != 2 {
			return errors.New("usage: mirror <device> on|off")
		}
		on, err := parseOnOff(args[1])
		if err != nil {
			return err
		}
		return s.orch.SetMirroring(args[0], on)
	case "shot":
		return s.screenshot(ctx, args)
	case "suite":
		if len(args) == 0 {
			s.suites()
			return nil
		}
		return s.orch.UseSuite(ctx, args[0])
	case "toggle":
		if len(args) != 1 {
			return errors.New("usage: toggle <device>")
		}
		return s.orch.ToggleDevice(ctx, args[0])
	case "rules":
		printRules(s.out, s.orch.Store().Rules())
	default:
		return fmt.Errorf("unknown command %q, type 'help'", name)
	}
	return nil
}

func (s *shell) deviceAction(ctx context.Context, name, id string) error {
	switch name {
	case "retry":
		return s.orch.Retry(ctx, id)
	case "back":
		return s.orch.GoBack(ctx, id)
	case "forward":
		return s.orch.GoForward(ctx, id)
	case "top":
		return s.orch.ScrollToTop(ctx, id)
	case "devtools":
		return s.orch.OpenDevTools(ctx, id)
	case "report":
		path, err := s.orch.SaveReport(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, "report saved to", path)
	case "events":
		if _, err := s.orch.Context(id); err != nil {
			return err
		}
		events := s.orch.Pocket().Events(id)
		if len(events) == 0 {
			fmt.Fprintln(s.out, faint("no events captured"))
		}
		for _, ev := range events {
			paint := toastColors["log"]
			switch ev.Type {
			case schemas.EventConsoleError:
				paint = toastColors["error"]
			case schemas.EventNetwork:
				paint = toastColors["network"]
			}
			fmt.Fprintf(s.out, "%s %s %s\n", faint(ev.Timestamp.Format("15:04:05")), paint(string(ev.Type)), ev.Message)
		}
	case "clear":
		if _, err := s.orch.Context(id); err != nil {
			return err
		}
		s.orch.Pocket().Clear(id)
	}
	return nil
}

func (s *shell) screenshot(ctx context.Context, args []string) error {
	if len(args) == 1 {
		path, err := s.orch.Screenshot(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, "saved", path)
		return nil
	}
	paths, err := s.orch.ScreenshotAll(ctx)
	for _, p := range paths {
		if p != "" {
			fmt.Fprintln(s.out, "saved", p)
		}
	}
	return err
}

func (s *shell) zoom(args []string) error {
	store := s.orch.Store()
	if len(args) == 1 {
		switch args[0] {
		case "in", "+":
			store.Dispatch(state.ZoomIn{})
		case "out", "-":
			store.Dispatch(state.ZoomOut{})
		default:
			z, err := strconv.ParseFloat(strings.TrimSuffix(args[0], "%"), 64)
			if err != nil {
				return fmt.Errorf("invalid zoom %q", args[0])
			}
			if strings.HasSuffix(args[0], "%") || z > 1 {
				z /= 100
			}
			store.Dispatch(state.SetZoom{Zoom: z})
		}
	}
	fmt.Fprintf(s.out, "zoom %.0f%%\n", store.Zoom()*100)
	return nil
}

func (s *shell) status() {
	st := s.orch.Store().Get()
	address := st.Address
	if address == "" {
		address = faint("(none)")
	}
	fmt.Fprintf(s.out, "%s %s  suite=%s touch=%s rotate=%s zoom=%.0f%%\n",
		bold("address"), address, st.ActiveSuite, onOff(st.Touch), onOff(st.Rotate), st.Zoom*100)

	primary := s.orch.Primary()
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDEVICE\tSTATE\tEMULATION\tMIRROR\tURL")
	for _, snap := range s.orch.Snapshots() {
		name := snap.DeviceName
		if snap.DeviceID == primary {
			name += " *"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			snap.DeviceID, name, stateLabel(snap), emulationLabel(snap), onOff(snap.Mirroring), snap.URL)
	}
	tw.Flush()
}

func (s *shell) suites() {
	active := s.orch.Registry().Active().ID
	for _, suite := range s.orch.Registry().Suites() {
		mark := " "
		if suite.ID == active {
			mark = "*"
		}
		fmt.Fprintf(s.out, "%s %s\t%s\t%s\n", mark, suite.ID, suite.Name, strings.Join(suite.DeviceIDs, ","))
	}
}

func stateLabel(snap browser.Snapshot) string {
	if snap.State == browser.StateFailed {
		return failed(fmt.Sprintf("failed (%d %s)", snap.ErrorCode, snap.ErrorDescription))
	}
	return string(snap.State)
}

func emulationLabel(snap browser.Snapshot) string {
	if snap.Emulation == browser.EmulationDegraded {
		return warned(string(snap.Emulation))
	}
	return string(snap.Emulation)
}

func printRules(w io.Writer, r schemas.PocketRules) {
	fmt.Fprintf(w, "console filter:    %q\n", r.ConsoleFilterText)
	fmt.Fprintf(w, "console log match: %q\n", r.ConsoleLogMatch)
	fmt.Fprintf(w, "network match:     %q\n", r.NetworkMatch)
	fmt.Fprintf(w, "network capture:   %s\n", onOff(r.IsNetworkEnabled))
}

func toggleArg(args []string, current bool) (bool, error) {
	if len(args) == 0 {
		return !current, nil
	}
	return parseOnOff(args[0])
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
