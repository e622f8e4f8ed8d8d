// Package commands implements the tetherctl CLI commands.
package commands

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	// httpClient issues requests against the daemon's JSON API.
	httpClient = &http.Client{Timeout: 10 * time.Second}

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon's JSON API address (host:port).
	serverAddr string

	// baseURL is derived from serverAddr in PersistentPreRunE.
	baseURL string
)

// rootCmd is the top-level cobra command for tetherctl.
var rootCmd = &cobra.Command{
	Use:   "tetherctl",
	Short: "CLI client for the tetherd daemon",
	Long:  "tetherctl talks to the tetherd daemon's JSON API to manage USB/Wi-Fi/Bluetooth tethering.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		baseURL = "http://" + strings.TrimPrefix(strings.TrimPrefix(serverAddr, "http://"), "https://")
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:8080",
		"tetherd daemon API address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(ifacesCmd())
	rootCmd.AddCommand(tetherCmd())
	rootCmd.AddCommand(untetherCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
