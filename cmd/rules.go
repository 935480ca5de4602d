// File: cmd/rules.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/humshakals/api/schemas"
	"github.com/xkilldash9x/humshakals/internal/observability"
	"github.com/xkilldash9x/humshakals/internal/pocket"
)

// withPocket opens the store and hands fn a capture pipeline with the
// persisted rules loaded.
func withPocket(cmd *cobra.Command, fn func(ctx context.Context, p *pocket.Pipeline) error) error {
	ctx := cmd.Context()
	cfg, err := getConfigFromContext(ctx)
	if err != nil {
		return err
	}
	logger := observability.GetLogger()
	settings, cleanup, err := openSettings(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	p, err := pocket.New(cfg.Pocket(), settings, logger)
	if err != nil {
		return err
	}
	p.LoadRules(ctx)
	return fn(ctx, p)
}

func newRulesCmd() *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Show or change the DevTools Pocket capture rules",
	}

	rulesCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the capture rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPocket(cmd, func(ctx context.Context, p *pocket.Pipeline) error {
				printRules(cmd.OutOrStdout(), p.Rules())
				return nil
			})
		},
	})

	var (
		consoleFilter string
		logMatch      string
		networkMatch  string
		network       bool
	)
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Change the capture rules; omitted flags keep their value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch schemas.PocketRulesPatch
			flags := cmd.Flags()
			if flags.Changed("console-filter") {
				patch.ConsoleFilterText = &consoleFilter
			}
			if flags.Changed("log-match") {
				patch.ConsoleLogMatch = &logMatch
			}
			if flags.Changed("network-match") {
				patch.NetworkMatch = &networkMatch
			}
			if flags.Changed("network") {
				patch.IsNetworkEnabled = &network
			}
			if patch == (schemas.PocketRulesPatch{}) {
				return fmt.Errorf("nothing to change, pass at least one rule flag")
			}
			return withPocket(cmd, func(ctx context.Context, p *pocket.Pipeline) error {
				printRules(cmd.OutOrStdout(), p.SetRules(ctx, patch))
				return nil
			})
		},
	}
	setCmd.Flags().StringVar(&consoleFilter, "console-filter", "", "comma separated substrings of console error sources to capture")
	setCmd.Flags().StringVar(&logMatch, "log-match", "", "comma separated console messages to capture verbatim")
	setCmd.Flags().StringVar(&networkMatch, "network-match", "", "comma separated substrings of request URLs to capture")
	setCmd.Flags().BoolVar(&network, "network", false, "capture failed network requests")
	rulesCmd.AddCommand(setCmd)
	return rulesCmd
}
