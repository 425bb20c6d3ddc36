package client

import (
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

func newStatsCommand() *cobra.Command {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth, in-flight, and dead-letter counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			group, _ := cmd.Flags().GetString("group")
			q := url.Values{}
			if group != "" {
				q.Set("group", group)
			}
			out, err := doRequest(cmd.Context(), http.MethodGet, addrFromFlags(cmd), "/v1/stats", q, nil)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), out)
			return nil
		},
	}
	statsCmd.Flags().String("group", "", "group to inspect (default: server's configured group)")
	return statsCmd
}

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := doRequest(cmd.Context(), http.MethodGet, addrFromFlags(cmd), "/v1/healthz", nil, nil)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), out)
			return nil
		},
	}
}
