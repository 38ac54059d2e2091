// Package cli implements the crucible command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string

	rootCmd = &cobra.Command{
		Use:   "crucible",
		Short: "Crucible - sandboxed script execution service",
		Long: `Crucible runs untrusted analysis scripts inside persistent,
path-confined session kernels. It exposes an HTTP API for synchronous
execution, async jobs, artifacts, and file uploads.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.crucible/crucible.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the build version string.
func GetVersion() string {
	return version
}
