/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quill",
	Short: "Quill blog backend",
	Long: `Quill is a small blog backend: user signup and login with JWT
bearer tokens, and per-user CRUD over posts.

	quill server        start the HTTP API
	quill migrate up    apply database migrations
	quill mailer        deliver queued welcome mail
`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
