// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/streamwatch/internal/config"
	"github.com/xkilldash9x/streamwatch/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// Process exit statuses.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitNoJobs  = 2
)

// ExitError carries the process exit status of a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// NewRootCommand builds a fresh command tree. Each invocation gets its own
// viper instance, so nothing leaks between executions.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "streamwatch",
		Short:         "streamwatch watches YouTube and Rumble videos through isolated browser sessions.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "streamwatch"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "streamwatch"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Configuration loaded.", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./streamwatch.yaml)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the command tree with ctx and reports failures on stderr.
func Execute(ctx context.Context) error {
	defer observability.Sync()

	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// initializeConfig reads the config file, environment and the flags of the
// executing command into v.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("streamwatch")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("STREAMWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(key, f)
	})
	return bindErr
}

// configFrom returns the configuration stored by the root command.
func configFrom(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
