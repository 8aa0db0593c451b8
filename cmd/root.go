package cmd

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/studyhive/studyhive-cli/internal/config"
	"github.com/studyhive/studyhive-cli/internal/logging"
	"github.com/studyhive/studyhive-cli/internal/ui"
	"github.com/studyhive/studyhive-cli/internal/version"
)

var (
	flagConfig    string
	flagDomain    string
	flagInsecure  bool
	flagSTUN      string
	flagTokenPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "studyhive",
	Short:   "Terminal client for StudyHive study rooms",
	Long: `StudyHive is a command-line client for StudyHive study rooms. Join a
room to chat in real time, see who is online, follow the shared pomodoro
timer, and hop on the room's voice or video call, all from the terminal.`,
	Version: version.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		os.Exit(0)
	}()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(config.Options{
		ConfigFile:   flagConfig,
		Domain:       flagDomain,
		Insecure:     flagInsecure,
		FallbackSTUN: flagSTUN,
		TokenPath:    flagTokenPath,
	})
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Config file path")
	rootCmd.PersistentFlags().StringVarP(&flagDomain, "domain", "d", "", "Custom domain")
	rootCmd.PersistentFlags().BoolVar(&flagInsecure, "insecure", false, "Use plain http/ws (local development)")
	rootCmd.PersistentFlags().StringVarP(&flagSTUN, "stun", "s", "", "Fallback STUN server")
	rootCmd.PersistentFlags().StringVar(&flagTokenPath, "token-path", "", "Token file path")
}
