// File: cmd/preview.go
package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/humshakals/internal/api"
	"github.com/xkilldash9x/humshakals/internal/config"
	"github.com/xkilldash9x/humshakals/internal/observability"
	"github.com/xkilldash9x/humshakals/internal/tui"
)

type previewOptions struct {
	Address string
	TUI     bool
	API     bool
}

// addSessionFlags registers the flags that shape a preview session. They are
// mapped onto configuration keys by initializeConfig.
func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("headless", false, "run the browser without a window")
	cmd.Flags().String("exec-path", "", "path to the Chromium executable")
	cmd.Flags().StringP("suite", "s", "", "preview suite to mount")
	cmd.Flags().Float64("zoom", 0, "initial preview zoom")
	cmd.Flags().Bool("touch", false, "start with touch emulation on")
	cmd.Flags().Bool("rotate", false, "start in landscape")
	cmd.Flags().String("store", "", "settings backend (file, sqlite, postgres)")
	cmd.Flags().StringP("output", "o", "", "directory for screenshots and reports")
}

func newPreviewCmd(provider sessionProvider) *cobra.Command {
	var opts previewOptions

	previewCmd := &cobra.Command{
		Use:   "preview [address]",
		Short: "Open an address on every device of the active suite",
		Long: `Mounts one emulated viewport per device of the active preview suite and
loads the address in all of them. Navigation in the primary device is followed
by the others. Control the session from the shell prompt, or with --tui from a
full screen dashboard.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				opts.Address = args[0]
			}
			return runPreview(ctx, observability.GetLogger(), cfg, provider, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	addSessionFlags(previewCmd)
	previewCmd.Flags().BoolVar(&opts.TUI, "tui", false, "use the full screen dashboard instead of the shell")
	previewCmd.Flags().BoolVar(&opts.API, "api", false, "also serve the control API on api.listen")
	return previewCmd
}

// runPreview contains the testable core of the preview command.
func runPreview(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	provider sessionProvider,
	opts previewOptions,
	in io.Reader,
	out io.Writer,
) error {
	sess, err := provider.Create(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sess.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := sess.follow(ctx, logger); err != nil {
		return err
	}
	if opts.Address != "" {
		sess.orch.Navigate(opts.Address)
	}

	if opts.API {
		srv := api.NewServer(sess.orch, logger)
		apiDone := make(chan struct{})
		go func() {
			defer close(apiDone)
			if err := srv.Run(ctx, cfg.API().Listen); err != nil {
				logger.Error("Control API failed.", zap.Error(err))
			}
		}()
		defer func() {
			cancel()
			<-apiDone
		}()
	}

	if opts.TUI {
		notifications, unsubscribe := sess.orch.Pocket().Subscribe()
		defer unsubscribe()
		return tui.Run(ctx, sess.orch, notifications)
	}
	return runShell(ctx, sess.orch, in, out)
}

func newServeCmd(provider sessionProvider) *cobra.Command {
	var address string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a preview session controlled through the local HTTP API",
		Long: `Starts a preview session without a prompt and exposes it on api.listen as a
JSON API plus a websocket stream of notifications and state changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runServe(ctx, observability.GetLogger(), cfg, provider, address)
		},
	}

	addSessionFlags(serveCmd)
	serveCmd.Flags().String("listen", "", "address of the control API")
	serveCmd.Flags().StringVar(&address, "address", "", "address to open once the devices are mounted")
	return serveCmd
}

// runServe blocks until ctx is cancelled.
func runServe(ctx context.Context, logger *zap.Logger, cfg config.Interface, provider sessionProvider, address string) error {
	sess, err := provider.Create(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sess.close()

	if err := sess.follow(ctx, logger); err != nil {
		return err
	}
	if address != "" {
		sess.orch.Navigate(address)
	}
	return api.NewServer(sess.orch, logger).Run(ctx, cfg.API().Listen)
}
