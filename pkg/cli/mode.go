package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/interceptd/interceptd/pkg/cli/internal/output"
)

var modeCmd = &cobra.Command{
	Use:   "mode [recording|debug|mock]",
	Short: "Show or switch the session mode",
	Long: `With no argument, show the current session mode. With an argument,
switch the running session to that mode. Leaving debug mode releases
every paused flow unchanged.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newControlClient()

		if len(args) == 0 {
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return output.JSON(map[string]string{"mode": status.Mode})
			}
			fmt.Println(status.Mode)
			return nil
		}

		if err := client.SwitchMode(cmd.Context(), args[0]); err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(map[string]string{"mode": args[0]})
		}
		fmt.Printf("Mode switched to %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modeCmd)
}
