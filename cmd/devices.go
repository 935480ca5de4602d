// File: cmd/devices.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/humshakals/api/schemas"
	"github.com/xkilldash9x/humshakals/internal/devices"
	"github.com/xkilldash9x/humshakals/internal/observability"
)

// withRegistry opens the configured store and hands fn a registry on top.
func withRegistry(cmd *cobra.Command, fn func(ctx context.Context, reg *devices.Registry) error) error {
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
	return fn(ctx, devices.NewRegistry(ctx, settings, logger))
}

func newDevicesCmd() *cobra.Command {
	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List and manage device profiles",
	}
	devicesCmd.AddCommand(newDevicesListCmd())
	devicesCmd.AddCommand(newDevicesAddCmd())
	devicesCmd.AddCommand(newDevicesRemoveCmd())
	devicesCmd.AddCommand(newDevicesImportCmd())
	devicesCmd.AddCommand(newDevicesExportCmd())
	return devicesCmd
}

func newDevicesListCmd() *cobra.Command {
	var class, pattern string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List built-in and custom devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, func(ctx context.Context, reg *devices.Registry) error {
				var list []schemas.DeviceProfile
				switch {
				case pattern != "":
					var err error
					if list, err = reg.Filter(pattern); err != nil {
						return err
					}
				case class != "":
					list = reg.ListByType(schemas.DeviceClass(class))
				default:
					list = reg.List()
				}
				printDevices(cmd.OutOrStdout(), list, reg.Active())
				return nil
			})
		},
	}
	listCmd.Flags().StringVarP(&class, "type", "t", "", "only list one class (phone, tablet, desktop)")
	listCmd.Flags().StringVarP(&pattern, "filter", "f", "", "glob matched against names, e.g. 'iPhone*'")
	return listCmd
}

func printDevices(w io.Writer, list []schemas.DeviceProfile, active schemas.PreviewSuite) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSIZE\tDPR\tTOUCH\tMOBILE\tACTIVE")
	for _, d := range list {
		activeMark := ""
		if active.Contains(d.ID) {
			activeMark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dx%d\t%g\t%s\t%s\t%s\n",
			d.ID, d.Name, d.Type, d.Width, d.Height, d.DPR, onOff(d.IsTouchCapable), onOff(d.IsMobileCapable), activeMark)
	}
	tw.Flush()
}

func newDevicesAddCmd() *cobra.Command {
	var d schemas.DeviceProfile
	var class string
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a custom device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d.Type = schemas.DeviceClass(class)
			return withRegistry(cmd, func(ctx context.Context, reg *devices.Registry) error {
				added, err := reg.AddCustom(ctx, d)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", added.Name, added.ID)
				return nil
			})
		},
	}
	f := addCmd.Flags()
	f.StringVar(&d.ID, "id", "", "device id, generated when empty")
	f.StringVar(&d.Name, "name", "", "display name (required)")
	f.Int64Var(&d.Width, "width", 0, "viewport width in CSS pixels (required)")
	f.Int64Var(&d.Height, "height", 0, "viewport height in CSS pixels (required)")
	f.Float64Var(&d.DPR, "dpr", 1, "device pixel ratio")
	f.StringVar(&d.UserAgent, "user-agent", "", "user agent string")
	f.StringVar(&class, "type", string(schemas.DevicePhone), "phone, tablet or desktop")
	f.BoolVar(&d.IsTouchCapable, "touch", false, "the device has a touch screen")
	f.BoolVar(&d.IsMobileCapable, "mobile", false, "the device renders with a mobile viewport")
	_ = addCmd.MarkFlagRequired("name")
	_ = addCmd.MarkFlagRequired("width")
	_ = addCmd.MarkFlagRequired("height")
	return addCmd
}

func newDevicesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <device-id>",
		Short: "Remove a custom device from the registry and every suite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, func(ctx context.Context, reg *devices.Registry) error {
				if err := reg.RemoveCustom(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "removed", args[0])
				return nil
			})
		},
	}
}

func newDevicesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Add the custom devices listed in a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()
			return withRegistry(cmd, func(ctx context.Context, reg *devices.Registry) error {
				added, err := reg.ImportYAML(ctx, f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d device(s)\n", len(added))
				return nil
			})
		},
	}
}

func newDevicesExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file.yaml]",
		Short: "Write the custom devices as YAML, to stdout by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, func(ctx context.Context, reg *devices.Registry) error {
				if len(args) == 0 {
					return reg.ExportYAML(cmd.OutOrStdout())
				}
				f, err := os.Create(args[0])
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", args[0], err)
				}
				if err := reg.ExportYAML(f); err != nil {
					f.Close()
					return err
				}
				return f.Close()
			})
		},
	}
}
