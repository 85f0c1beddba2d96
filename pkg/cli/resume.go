package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/interceptd/interceptd/pkg/cli/internal/output"
	"github.com/interceptd/interceptd/pkg/snapshot"
)

var (
	resumeStatus   int
	resumeBody     string
	resumeBodyFile string
	resumeHeaders  []string
)

var resumeCmd = &cobra.Command{
	Use:   "resume <flow-id>",
	Short: "Resume a paused flow, optionally rewriting the response",
	Long: `Resume a flow paused in debug mode. With no flags the original
response passes through unchanged. --status, --body and --header
override the corresponding parts of the response; everything not
overridden keeps its original value.`,
	Example: `  # Let the original response through
  interceptd resume 7c9e6679

  # Rewrite to a 404
  interceptd resume 7c9e6679 --status 404 --body '{"error":"not found"}'

  # Inject a header
  interceptd resume 7c9e6679 --header "X-Debug: injected"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mod, err := buildModifiedResponse()
		if err != nil {
			return err
		}

		client := newControlClient()
		ack, err := client.Resume(cmd.Context(), args[0], mod)
		if err != nil {
			return err
		}

		if jsonOutput {
			return output.JSON(ack)
		}
		fmt.Printf("Flow %s resumed\n", ack.FlowID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().IntVar(&resumeStatus, "status", 0, "Override the response status code")
	resumeCmd.Flags().StringVar(&resumeBody, "body", "", "Override the response body")
	resumeCmd.Flags().StringVar(&resumeBodyFile, "body-file", "", "Read the response body override from a file")
	resumeCmd.Flags().StringArrayVar(&resumeHeaders, "header", nil, "Header override as 'Name: value' (repeatable)")
}

// buildModifiedResponse assembles the override from flags. nil means plain
// pass-through.
func buildModifiedResponse() (*snapshot.ModifiedResponse, error) {
	if resumeStatus == 0 && resumeBody == "" && resumeBodyFile == "" && len(resumeHeaders) == 0 {
		return nil, nil
	}

	mod := &snapshot.ModifiedResponse{}
	if resumeStatus != 0 {
		if resumeStatus < 100 || resumeStatus > 599 {
			return nil, fmt.Errorf("invalid status code %d", resumeStatus)
		}
		mod.StatusCode = &resumeStatus
	}

	switch {
	case resumeBody != "" && resumeBodyFile != "":
		return nil, fmt.Errorf("--body and --body-file are mutually exclusive")
	case resumeBody != "":
		mod.Content = &resumeBody
	case resumeBodyFile != "":
		data, err := os.ReadFile(resumeBodyFile)
		if err != nil {
			return nil, fmt.Errorf("reading body file: %w", err)
		}
		body := string(data)
		mod.Content = &body
	}

	if len(resumeHeaders) > 0 {
		mod.Headers = make(map[string]string, len(resumeHeaders))
		for _, h := range resumeHeaders {
			name, value, ok := strings.Cut(h, ":")
			if !ok {
				return nil, fmt.Errorf("malformed header %q, want 'Name: value'", h)
			}
			mod.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}

	return mod, nil
}
