package client

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// NewDLQCommand constructs the `dlq` command group.
func NewDLQCommand() *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Dead-letter queue inspection",
	}
	dlqCmd.AddCommand(newDLQListCommand())
	return dlqCmd
}

func newDLQListCommand() *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters, optionally narrowed by a CEL filter",
		Long: `List dead letters in per-group arrival order.

The --filter expression runs against each entry with these variables:
  group, reason, receive_count, enqueued_ms, dead_ms, size, text, json, now_ms

Examples:
  taskqd dlq list --filter 'reason == "lease expired"'
  taskqd dlq list --filter 'json.priority == "high" && receive_count >= 3'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			group, _ := cmd.Flags().GetString("group")
			filter, _ := cmd.Flags().GetString("filter")
			limit, _ := cmd.Flags().GetInt("limit")

			q := url.Values{}
			if group != "" {
				q.Set("group", group)
			}
			if filter != "" {
				q.Set("filter", filter)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			out, err := doRequest(cmd.Context(), http.MethodGet, addrFromFlags(cmd), "/v1/dlq", q, nil)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), out)
			return nil
		},
	}
	listCmd.Flags().String("group", "", "restrict to one group (default all)")
	listCmd.Flags().String("filter", "", "CEL filter expression")
	listCmd.Flags().Int("limit", 0, "maximum entries to return (0 = all)")
	return listCmd
}
