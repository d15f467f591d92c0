// Package cmd provides the viewmill command-line interface.
//
// Configuration System:
//
//	Configuration is layered, highest priority first:
//	1. Command-line flags (--config, --port, etc.)
//	2. VIEWMILL_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (VIEWMILL_SERVER_PORT, etc.)
//	4. Configuration files (.viewmill.yml)
//
// Environment Variables:
//
//	VIEWMILL_CONFIG_FILE: Path to custom configuration file
//	VIEWMILL_SERVER_PORT: Override server port
//	VIEWMILL_SERVER_HOST: Override server host
//	VIEWMILL_SOURCE_ROOT: Override the template root
//	And so on following the VIEWMILL_<SECTION>_<OPTION> pattern
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/viewmill/viewmill/internal/config"
	"github.com/viewmill/viewmill/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "viewmill",
	Short: "A page template registry and rendering server",
	Long: `Viewmill discovers page templates under a root directory, compiles
them through per-extension back-ends, and serves them with layout
wrapping and live reload.

Key Features:
  • Template discovery with view, shared view, and content pages
  • Layout association via an in-file directive
  • Lazy recompilation when source files change
  • Live browser reload over websockets
  • Go templates, Scriggo templates, and Markdown out of the box

Quick Start:
  viewmill serve                  Start the page server
  viewmill list                   List every registered page
  viewmill check                  Compile-only pass for CI
  viewmill version                Show version information`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Accept --log_level as --log-level and so on.
	rootCmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .viewmill.yml, can also use VIEWMILL_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig initializes the configuration system.
//
// Config file resolution, highest priority first:
//  1. --config flag
//  2. VIEWMILL_CONFIG_FILE environment variable
//  3. .viewmill.yml in the current directory
//
// Environment variables with the VIEWMILL_ prefix override file values,
// e.g. VIEWMILL_SERVER_PORT=8080.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("VIEWMILL_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".viewmill")
	}

	viper.SetEnvPrefix("VIEWMILL")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing or unreadable config file is not an error, defaults
	// and environment variables still apply.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func newLogger(cfg *config.Config) logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})
}
