// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"strings"

	"github.com/adiadia/agent-observability/internal/logging"
	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:4000"

var rootCmd = &cobra.Command{
	Use:           "hookctl",
	Short:         "Send and follow hook events on an observability server",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	server := strings.TrimSpace(os.Getenv("HOOKCTL_SERVER"))
	if server == "" {
		server = defaultServer
	}
	rootCmd.PersistentFlags().String("server", server, "observability server base URL (env HOOKCTL_SERVER)")
	rootCmd.PersistentFlags().Duration("timeout", 0, "request timeout (0 uses the command default)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func clientFor(cmd *cobra.Command) *apiClient {
	server, _ := cmd.Flags().GetString("server")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	logger := logging.New(os.Getenv("ENV"), os.Getenv("LOG_LEVEL"), os.Stderr)
	return newAPIClient(server, timeout, logger)
}
