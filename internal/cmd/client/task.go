package client

import (
	"net/http"

	"github.com/spf13/cobra"
)

// NewTaskCommand constructs the `task` command group.
func NewTaskCommand() *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Task operations",
	}
	taskCmd.AddCommand(newTaskCreateCommand())
	return taskCmd
}

func newTaskCreateCommand() *cobra.Command {
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, _ []string) error {
			title, _ := cmd.Flags().GetString("title")
			description, _ := cmd.Flags().GetString("description")
			priority, _ := cmd.Flags().GetString("priority")
			dueDate, _ := cmd.Flags().GetString("due-date")

			body := map[string]any{
				"title":       title,
				"description": description,
				"priority":    priority,
			}
			if dueDate != "" {
				body["due_date"] = dueDate
			}
			out, err := doRequest(cmd.Context(), http.MethodPost, addrFromFlags(cmd), "/v1/tasks", nil, body)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), out)
			return nil
		},
	}
	createCmd.Flags().String("title", "", "task title")
	createCmd.Flags().String("description", "", "task description")
	createCmd.Flags().String("priority", "medium", "priority: low|medium|high")
	createCmd.Flags().String("due-date", "", "optional RFC 3339 due date")
	_ = createCmd.MarkFlagRequired("title")
	_ = createCmd.MarkFlagRequired("description")
	return createCmd
}
