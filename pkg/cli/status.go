package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/interceptd/interceptd/pkg/cli/internal/output"
	"github.com/interceptd/interceptd/pkg/control"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the interception session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newControlClient()

		status, err := client.Status(cmd.Context())
		if err != nil {
			if errors.Is(err, control.ErrUnavailable) {
				if jsonOutput {
					return output.JSON(map[string]any{"status": "unreachable"})
				}
				fmt.Printf("No session at %s\n", controlURL)
				return nil
			}
			return err
		}

		if jsonOutput {
			return output.JSON(status)
		}

		fmt.Printf("Session:     %s\n", status.Status)
		fmt.Printf("Mode:        %s\n", status.Mode)
		fmt.Printf("Intercepted: %d\n", status.InterceptedCount)
		if len(status.InterceptedFlows) > 0 {
			fmt.Println("Paused flows:")
			for _, id := range status.InterceptedFlows {
				fmt.Printf("  %s\n", id)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
