package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/interceptd/interceptd/pkg/cli/internal/output"
	"github.com/interceptd/interceptd/pkg/control"
)

var flowsState string

var flowsCmd = &cobra.Command{
	Use:   "flows",
	Short: "Inspect captured flows",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFlowsList(cmd)
	},
}

var flowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List captured flows",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFlowsList(cmd)
	},
}

var flowsShowCmd = &cobra.Command{
	Use:   "show <flow-id>",
	Short: "Show a single flow in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newControlClient()
		f, err := client.GetFlow(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if jsonOutput {
			return output.JSON(f)
		}

		fmt.Printf("Flow:    %s\n", f.FlowID)
		fmt.Printf("Request: %s %s\n", f.Request.Method, f.Request.URL)
		for k, v := range f.Request.Headers {
			fmt.Printf("  %s: %s\n", k, v)
		}
		if f.Response != nil {
			fmt.Printf("Response: %d %s\n", f.Response.StatusCode, f.Response.Reason)
			for k, v := range f.Response.Headers {
				fmt.Printf("  %s: %s\n", k, v)
			}
			if f.Response.Content != "" {
				fmt.Printf("Body:\n%s\n", f.Response.Content)
			}
		} else if f.Paused {
			fmt.Println("Response: (paused, awaiting resume)")
		}
		if f.MockApplied {
			fmt.Printf("Answered by rule: %s (%s)\n", f.MockRuleName, f.MockRuleID)
		}
		return nil
	},
}

var flowsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop completed flows (paused flows are kept)",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newControlClient()
		cleared, err := client.ClearFlows(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(map[string]int{"cleared": cleared})
		}
		fmt.Printf("Cleared %d flows\n", cleared)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(flowsCmd)
	flowsCmd.AddCommand(flowsListCmd)
	flowsCmd.AddCommand(flowsShowCmd)
	flowsCmd.AddCommand(flowsClearCmd)
	flowsCmd.PersistentFlags().StringVar(&flowsState, "state", "", "Filter by state (pending, paused, resumed, completed)")
}

func runFlowsList(cmd *cobra.Command) error {
	client := newControlClient()
	flows, err := client.ListFlows(cmd.Context(), flowsState)
	if err != nil {
		return err
	}

	if jsonOutput {
		return output.JSON(flows)
	}

	if len(flows) == 0 {
		fmt.Println("No flows captured.")
		return nil
	}

	w := output.Table()
	fmt.Fprintln(w, "FLOW ID\tMETHOD\tURL\tSTATUS\tSTATE\tWHEN")
	for _, f := range flows {
		status := "-"
		if f.Response != nil {
			status = fmt.Sprintf("%d", f.Response.StatusCode)
		}
		state := "completed"
		if f.Paused {
			state = "paused"
		}
		if f.MockApplied {
			state += " (mocked)"
		}
		when := time.Unix(int64(f.Timestamp), 0).Format(time.TimeOnly)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(f.FlowID), f.Request.Method, f.Request.URL, status, state, when)
	}
	return w.Flush()
}

// shortID trims a UUID to its first segment for table output.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newControlClient() *control.Client {
	return control.NewClient(controlURL)
}
