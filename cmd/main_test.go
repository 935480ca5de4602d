// File: cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/humshakals/internal/config"
	"github.com/xkilldash9x/humshakals/internal/observability"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// resetForTest silences the global logger so command output stays readable.
func resetForTest(t *testing.T) {
	t.Helper()
	observability.ResetForTest()
	observability.InitializeLogger(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"})
	t.Cleanup(observability.ResetForTest)
}

// writeTestConfig writes a config file whose store and output live under a
// temp dir and returns its path.
func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
store:
  backend: file
  dir: %s
output:
  dir: %s
%s`, filepath.Join(dir, "store"), filepath.Join(dir, "out"), extra)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// run executes a fresh command tree with args and returns its output.
func run(t *testing.T, provider sessionProvider, args ...string) (string, error) {
	t.Helper()
	return runWithInput(t, provider, "", args...)
}

func runWithInput(t *testing.T, provider sessionProvider, input string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(provider)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(bytes.NewBufferString(input))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// findCommand walks the tree by command name.
func findCommand(root *cobra.Command, path ...string) *cobra.Command {
	cmd := root
	for _, name := range path {
		var next *cobra.Command
		for _, c := range cmd.Commands() {
			if c.Name() == name {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		cmd = next
	}
	return cmd
}
