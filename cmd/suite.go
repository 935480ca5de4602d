// File: cmd/suite.go
package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/humshakals/api/schemas"
	"github.com/xkilldash9x/humshakals/internal/devices"
)

func newSuiteCmd() *cobra.Command {
	suiteCmd := &cobra.Command{
		Use:     "suite",
		Aliases: []string{"suites"},
		Short:   "Manage preview suites, the device sets shown side by side",
	}

	suiteCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List suites; the active one is starred",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, func(ctx context.Context, reg *devices.Registry) error {
				active := reg.Active().ID
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "\tID\tNAME\tDEVICES")
				for _, s := range reg.Suites() {
					mark := ""
					if s.ID == active {
						mark = "*"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", mark, s.ID, s.Name, strings.Join(s.DeviceIDs, ","))
				}
				return tw.Flush()
			})
		},
	})

	suiteCmd.AddCommand(&cobra.Command{
		Use:   "use <suite-id>",
		Short: "Make a suite the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, func(ctx context.Context, reg *devices.Registry) error {
				if err := reg.SetActive(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "active suite:", reg.Active().Name)
				return nil
			})
		},
	})

	suiteCmd.AddCommand(&cobra.Command{
		Use:   "toggle <device-id>",
		Short: "Add a device to the active suite, or remove it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, func(ctx context.Context, reg *devices.Registry) error {
				s, err := reg.ToggleInActive(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", s.Name, strings.Join(s.DeviceIDs, ","))
				return nil
			})
		},
	})

	suiteCmd.AddCommand(newSuiteAddCmd())
	return suiteCmd
}

func newSuiteAddCmd() *cobra.Command {
	var s schemas.PreviewSuite
	var activate bool
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Create a suite",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, func(ctx context.Context, reg *devices.Registry) error {
				added, err := reg.AddSuite(ctx, s)
				if err != nil {
					return err
				}
				if activate {
					if err := reg.SetActive(ctx, added.ID); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added suite %s (%s) with %d device(s)\n", added.Name, added.ID, len(added.DeviceIDs))
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&s.ID, "id", "", "suite id, generated when empty")
	addCmd.Flags().StringVar(&s.Name, "name", "", "display name (required)")
	addCmd.Flags().StringSliceVar(&s.DeviceIDs, "devices", nil, "comma separated device ids")
	addCmd.Flags().BoolVar(&activate, "use", false, "make the new suite active")
	_ = addCmd.MarkFlagRequired("name")
	return addCmd
}
