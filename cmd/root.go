// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/humshakals/internal/config"
	"github.com/xkilldash9x/humshakals/internal/observability"
	"github.com/xkilldash9x/humshakals/internal/pocket"
)

type contextKey string

const (
	configKey contextKey = "config"
	viperKey  contextKey = "viper"

	envPrefix = "HUMSHAKALS"
)

// flagKeys maps command line flags onto configuration keys. A flag only
// overrides the file and environment when it is set explicitly.
var flagKeys = map[string]string{
	"log-level": "logger.level",
	"headless":  "browser.headless",
	"exec-path": "browser.exec_path",
	"suite":     "preview.suite",
	"zoom":      "preview.zoom",
	"touch":     "preview.touch",
	"rotate":    "preview.rotate",
	"store":     "store.backend",
	"listen":    "api.listen",
	"output":    "output.dir",
}

// NewRootCommand builds a fresh command tree. The interactive shell in main
// creates one per line so flags never leak between invocations.
func NewRootCommand() *cobra.Command {
	return newRootCmd(NewSessionProvider())
}

func newRootCmd(provider sessionProvider) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "humshakals",
		Short:         "Preview one page on many devices at once.",
		Long:          `Humshakals opens the same address in one emulated viewport per device of a preview suite and keeps them in step.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				basicLogger, _ := zap.NewDevelopment()
				defer basicLogger.Sync()
				basicLogger.Error("Failed to initialize configuration", zap.Error(err))
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "humshakals"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting Humshakals", zap.String("version", Version))

			ctx := context.WithValue(cmd.Context(), configKey, cfg)
			ctx = context.WithValue(ctx, viperKey, v)
			cmd.SetContext(ctx)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml or ~/.humshakals/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "override the log level (debug, info, warn, error)")
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	rootCmd.AddCommand(newPreviewCmd(provider))
	rootCmd.AddCommand(newServeCmd(provider))
	rootCmd.AddCommand(newDevicesCmd())
	rootCmd.AddCommand(newSuiteCmd())
	rootCmd.AddCommand(newRulesCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the command tree with ctx and logs the failure, if any.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Info("Command cancelled.")
			return err
		}
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// initializeConfig reads the config file and environment variables into v
// and binds the flags the invoked command defines.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home + "/.humshakals")
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind flag %q: %w", name, err)
			}
		}
	}
	return nil
}

// getConfigFromContext returns the configuration stored by PersistentPreRunE.
func getConfigFromContext(ctx context.Context) (config.Interface, error) {
	cfg, ok := ctx.Value(configKey).(config.Interface)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not found in context")
	}
	return cfg, nil
}

// watchConfig re-applies the log level and capture limits whenever the
// config file changes. Settings that shape mounted contexts need a restart.
func watchConfig(ctx context.Context, p *pocket.Pipeline) {
	v, ok := ctx.Value(viperKey).(*viper.Viper)
	if !ok || v.ConfigFileUsed() == "" {
		return
	}
	logger := observability.GetLogger()
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := config.NewConfigFromViper(v)
		if err != nil {
			logger.Warn("Ignoring invalid config change.", zap.String("file", e.Name), zap.Error(err))
			return
		}
		if err := observability.SetLevel(cfg.Logger().Level); err != nil {
			logger.Warn("Invalid log level in config.", zap.Error(err))
		}
		if err := p.Reconfigure(cfg.Pocket()); err != nil {
			logger.Warn("Failed to apply pocket settings.", zap.Error(err))
		}
		logger.Info("Configuration reloaded.", zap.String("file", e.Name))
	})
	v.WatchConfig()
}
