// Package cmd wires the voice-agent CLI, grounded on the teacher's
// cmd/root.go: a cobra root command with persistent flags bound through
// viper, and one subcommand per operating mode.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kawaz/voice-agent/internal/conf"
)

var configPath string

// RootCommand builds the root cobra command and all its subcommands.
func RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "voice-agent",
		Short: "Continuous wake-word-triggered voice command pipeline",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML configuration file")
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", root.PersistentFlags().Lookup("debug")); err != nil {
		panic(fmt.Sprintf("binding debug flag: %v", err))
	}

	root.AddCommand(listenCommand())
	root.AddCommand(monitorCommand())

	return root
}

// loadSettings loads and installs the process-wide Settings, the first
// thing every subcommand's RunE does.
func loadSettings() (*conf.Settings, error) {
	return conf.Load(configPath)
}
