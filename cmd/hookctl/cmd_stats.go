// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the event count and filter options",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats(cmd.Context(), clientFor(cmd), cmd.OutOrStdout())
	},
}

func runStats(ctx context.Context, client *apiClient, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	count, err := client.count(ctx)
	if err != nil {
		return fmt.Errorf("count events: %w", err)
	}
	opts, err := client.filterOptions(ctx)
	if err != nil {
		return fmt.Errorf("filter options: %w", err)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "EVENTS\t%d\n", count)
	fmt.Fprintf(w, "SOURCE APPS\t%s\n", joinOrDash(opts.SourceApps))
	fmt.Fprintf(w, "SESSIONS\t%d\n", len(opts.SessionIDs))
	fmt.Fprintf(w, "EVENT TYPES\t%s\n", joinOrDash(opts.HookEventTypes))
	return w.Flush()
}

func joinOrDash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ", ")
}
