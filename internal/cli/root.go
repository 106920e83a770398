package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/tether/internal/config"
	"github.com/harun/tether/internal/logger"
	"github.com/harun/tether/pkg/gateway"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "Tether - Gateway chat client",
	Long: `Tether is a client for a remote conversational agent gateway.
It sends messages, follows streamed responses, and manages sessions over
the gateway's WebSocket protocol.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tether/tether.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// setup loads configuration and initializes logging for a command run.
func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	logCfg := logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Redaction: cfg.Logging.Redaction,
	}
	if logLevel != "" {
		logCfg.Level = logLevel
	}

	log, err := logger.New(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

// gatewayConfig maps the file configuration onto the gateway's settings.
func gatewayConfig(cfg *config.Config, log *logger.Logger) gateway.Config {
	return gateway.Config{
		URL:            cfg.Gateway.URL,
		Token:          cfg.Gateway.Token,
		Password:       cfg.Gateway.Password,
		ClientID:       cfg.Client.ID,
		DisplayName:    cfg.Client.DisplayName,
		Mode:           cfg.Client.Mode,
		Role:           cfg.Client.Role,
		Scopes:         cfg.Client.Scopes,
		RequestTimeout: cfg.RequestTimeout(),
		Logger:         log.GetZerolog(),
	}
}
