package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/interceptd/interceptd/pkg/cli/internal/output"
	"github.com/interceptd/interceptd/pkg/mockrule"
	"github.com/interceptd/interceptd/pkg/snapshot"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage the mock rule collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRulesList(cmd)
	},
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRulesList(cmd)
	},
}

func runRulesList(cmd *cobra.Command) error {
	client := newControlClient()
	rules, err := client.ListRules(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput {
		return output.JSON(rules)
	}

	if len(rules) == 0 {
		fmt.Println("No rules configured.")
		return nil
	}

	w := output.Table()
	fmt.Fprintln(w, "RULE ID\tNAME\tMETHOD\tHOST\tPATH\tSTATUS")
	for _, r := range rules {
		status := 200
		if r.Response.StatusCode != nil {
			status = *r.Response.StatusCode
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			shortID(r.ID), r.Name, r.Match.Method, r.Match.Host, r.Match.Path, status)
	}
	return w.Flush()
}

var (
	ruleAddName    string
	ruleAddMethod  string
	ruleAddHost    string
	ruleAddPath    string
	ruleAddStatus  int
	ruleAddBody    string
	ruleAddHeaders []string
	ruleAddParams  []string
)

var rulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a rule",
	Example: `  # Answer GET https://api.example.com/v1/users with a canned list
  interceptd rules add --name users --method GET --host api.example.com \
    --path /v1/users --status 200 --body '{"users":[]}'

  # Require a query parameter
  interceptd rules add --name paged --method GET --host api.example.com \
    --path /v1/users --param page=1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rule := mockrule.Rule{
			Name: ruleAddName,
			Match: mockrule.MatchSpec{
				Method: ruleAddMethod,
				Host:   ruleAddHost,
				Path:   ruleAddPath,
			},
		}
		if ruleAddStatus != 0 {
			rule.Response.StatusCode = &ruleAddStatus
		}
		if ruleAddBody != "" {
			rule.Response.Content = &ruleAddBody
		}
		if len(ruleAddHeaders) > 0 {
			rule.Response.Headers = make(map[string]string, len(ruleAddHeaders))
			for _, h := range ruleAddHeaders {
				name, value, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("malformed header %q, want 'Name: value'", h)
				}
				rule.Response.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
			}
		}
		for _, p := range ruleAddParams {
			key, value, ok := strings.Cut(p, "=")
			if !ok {
				return fmt.Errorf("malformed param %q, want 'key=value'", p)
			}
			rule.Match.Params = append(rule.Match.Params, snapshot.QueryParam{
				Key:      key,
				Value:    value,
				Required: true,
			})
		}

		client := newControlClient()
		created, err := client.CreateRule(cmd.Context(), rule)
		if err != nil {
			return err
		}

		if jsonOutput {
			return output.JSON(created)
		}
		fmt.Printf("Rule %q created (%s)\n", created.Name, created.ID)
		return nil
	},
}

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete <rule-id>",
	Short: "Delete a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newControlClient()
		if err := client.DeleteRule(cmd.Context(), args[0]); err != nil {
			return err
		}
		if !jsonOutput {
			fmt.Printf("Rule %s deleted\n", args[0])
		}
		return nil
	},
}

var rulesImportReplace bool

var rulesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a YAML rule collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading collection: %w", err)
		}

		client := newControlClient()
		imported, skipped, err := client.ImportRules(cmd.Context(), data, rulesImportReplace)
		if err != nil {
			return err
		}

		if jsonOutput {
			return output.JSON(map[string]any{"imported": imported, "skipped": skipped})
		}
		fmt.Printf("Imported %d rules\n", imported)
		for _, reason := range skipped {
			output.Warn("skipped: %s", reason)
		}
		return nil
	},
}

var (
	rulesExportName string
	rulesExportFile string
)

var rulesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the rule collection as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newControlClient()
		data, err := client.ExportRules(cmd.Context(), rulesExportName)
		if err != nil {
			return err
		}

		if rulesExportFile != "" {
			if err := os.WriteFile(rulesExportFile, data, 0o644); err != nil {
				return fmt.Errorf("writing export: %w", err)
			}
			if !jsonOutput {
				fmt.Printf("Exported to %s\n", rulesExportFile)
			}
			return nil
		}
		fmt.Print(string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesAddCmd)
	rulesCmd.AddCommand(rulesDeleteCmd)
	rulesCmd.AddCommand(rulesImportCmd)
	rulesCmd.AddCommand(rulesExportCmd)

	rulesAddCmd.Flags().StringVar(&ruleAddName, "name", "", "Rule display name")
	rulesAddCmd.Flags().StringVar(&ruleAddMethod, "method", "GET", "HTTP method to match")
	rulesAddCmd.Flags().StringVar(&ruleAddHost, "host", "", "Host to match")
	rulesAddCmd.Flags().StringVar(&ruleAddPath, "path", "", "Path to match")
	rulesAddCmd.Flags().IntVar(&ruleAddStatus, "status", 0, "Response status code (default 200)")
	rulesAddCmd.Flags().StringVar(&ruleAddBody, "body", "", "Response body")
	rulesAddCmd.Flags().StringArrayVar(&ruleAddHeaders, "header", nil, "Response header as 'Name: value' (repeatable)")
	rulesAddCmd.Flags().StringArrayVar(&ruleAddParams, "param", nil, "Required query parameter as 'key=value' (repeatable)")

	rulesImportCmd.Flags().BoolVar(&rulesImportReplace, "replace", false, "Drop existing rules before importing")

	rulesExportCmd.Flags().StringVar(&rulesExportName, "name", "", "Collection name in the export")
	rulesExportCmd.Flags().StringVarP(&rulesExportFile, "output", "o", "", "Write to a file instead of stdout")
}
