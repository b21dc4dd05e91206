// Package cmd provides the CLI commands for Workly Gate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/workly/workly-gate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "workly-gate",
	Short: "Workly Gate - route protection and session refresh",
	Long: `Workly Gate sits in front of the Workly web application.

Every page request has its Supabase session refreshed, is classified as
public, protected or admin, and is either forwarded to the application or
redirected to the login page or home page.

Quick start:
  1. Create a config file: workly-gate.yaml
  2. Run: workly-gate start

Configuration:
  Config is loaded from workly-gate.yaml in the current directory,
  $HOME/.workly-gate/, or /etc/workly-gate/.

  Environment variables can override config values with the WORKLY_GATE_ prefix.
  Example: WORKLY_GATE_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the gate
  stop        Stop the running gate
  routes      Show how a path is classified and decided
  hash-key    Hash an operator key for the config file
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./workly-gate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
