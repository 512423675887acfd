package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ma12/companion-api/pkg/config"
	"github.com/ma12/companion-api/pkg/system"
)

type runtimeState struct {
	configPath string
	debug      bool
	writer     io.Writer
	logger     *zap.Logger
}

type runtimeKey struct{}

// NewRootCommand builds the command tree. Command output goes to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	rt := &runtimeState{writer: out}

	root := &cobra.Command{
		Use:           "companion-api",
		Short:         "Sobriety date and support form backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.logger != nil {
				return nil
			}
			logger, err := system.NewLogger(rt.debug)
			if err != nil {
				return err
			}
			rt.logger = logger
			return nil
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", getEnvString("COMPANION_CONFIG_PATH", ""),
		"Path to the YAML configuration file (default ./config.yaml when present)")
	root.PersistentFlags().BoolVar(&rt.debug, "debug", getEnvBool("COMPANION_DEBUG", false),
		"Enable debug level logging and development CORS")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewServeCommand(),
		NewMigrateCommand(),
		NewSupportCommand(),
		NewVersionCommand(),
	)
	return root
}

// Execute runs the command tree against os.Args.
func Execute(ctx context.Context) error {
	root := NewRootCommand(os.Stdout)
	rt, _ := getRuntime(root)
	defer func() {
		if rt != nil && rt.logger != nil {
			_ = rt.logger.Sync()
		}
	}()
	return root.ExecuteContext(context.WithValue(ctx, runtimeKey{}, rt))
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) Logger() *zap.Logger {
	if rt.logger != nil {
		return rt.logger
	}
	return zap.NewNop()
}

func (rt *runtimeState) LoadConfig() (config.Config, error) {
	return config.Load(rt.configPath)
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}
