/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/hasznalt/apiserver/config"
	"github.com/hasznalt/apiserver/internal/logging"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hasznalt",
	Short: "Hasznalt classifieds backend",
	Long: `Backend for the Hasznalt classifieds site: account registration,
login and cookie sessions on PostgreSQL, plus the single-page frontend.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *logging.SlogLogger {
	return logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
}
