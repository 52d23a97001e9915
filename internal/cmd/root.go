// Package cmd implements the cubic command line.
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/cubic/internal/app"
	"github.com/Iron-Ham/cubic/internal/config"
	"github.com/Iron-Ham/cubic/internal/errors"
)

var rootCmd = &cobra.Command{
	Use:   "cubic",
	Short: "Game instance launcher",
	Long: `Cubic manages named game instances, each a game version bound to its own
working directory, and installs missing versions before launching them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// newApp builds the application for commands that need it. Tests replace
// it to inject an in-memory filesystem or a scripted engine.
var newApp = func(cfg *config.Config, opts ...app.Option) (*app.App, error) {
	return app.New(cfg, opts...)
}

// Execute runs the root command
func Execute() error {
	return execute()
}

func execute() error {
	cmd, err := rootCmd.ExecuteC()
	if err != nil {
		printError(rootCmd.ErrOrStderr(), cmd, err)
	}
	return err
}

// printError reports a command failure. Errors classified as user-facing
// are colored by severity; anything else is shown raw.
func printError(w io.Writer, cmd *cobra.Command, err error) {
	if !errors.IsUserFacing(err) {
		fmt.Fprintln(w, errorStyle.Render("Error: "+err.Error()))
		return
	}

	style := errorStyle
	if errors.GetSeverity(err) <= errors.SeverityWarning {
		style = warningStyle
	}
	fmt.Fprintln(w, style.Render(errors.Message(err)))
	if errors.IsValidation(err) && cmd != nil {
		fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("Run '%s --help' for usage.", cmd.CommandPath())))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/cubic/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// .env values become environment variables, so they sit below real
	// environment variables and above the config file.
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env: %v\n", err)
	}

	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/cubic")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CUBIC")
	// Replace dots with underscores for nested keys in env vars
	// e.g., CUBIC_DOWNLOAD_WORKERS for download.workers
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// openApp loads and validates the configuration and builds the app.
// The caller must Close the app.
func openApp(opts ...app.Option) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return newApp(cfg, opts...)
}
