// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/retumi/internal/config"
	"github.com/xkilldash9x/retumi/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// NewRootCommand builds a fresh command tree. Each call returns independent
// flag state, so the interactive shell and tests can run commands repeatedly.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "retumi",
		Short:         "retumi renders web pages as text and runs their scripts.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(cfgFile)
			if err != nil {
				// Still give the user a logger to report the failure on.
				observability.InitializeLogger(config.NewDefaultConfig().Logger)
				return err
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting retumi", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newBrowseCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the command tree against os.Args.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Info("Interrupted")
		} else {
			observability.GetLogger().Error("Command execution failed", zap.Error(err))
		}
		return err
	}
	return nil
}

// LoadConfig reads defaults, then the config file, then RETUMI_* environment
// variables. An empty path looks for ./config.yaml and tolerates its absence.
func LoadConfig(cfgFile string) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)
	if err := initializeConfig(v, cfgFile); err != nil {
		return nil, fmt.Errorf("failed to initialize configuration: %w", err)
	}
	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return nil, fmt.Errorf("failed to load or validate config: %w", err)
	}
	return cfg, nil
}

func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// configFromContext returns the configuration loaded by the root command, or
// defaults when a command runs without it.
func configFromContext(ctx context.Context) *config.Config {
	if ctx != nil {
		if cfg, ok := ctx.Value(configKey).(*config.Config); ok && cfg != nil {
			return cfg
		}
	}
	return config.NewDefaultConfig()
}
