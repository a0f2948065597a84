package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	formFields    []string
	formSubmitSel string
	formWaitFor   string
)

var formCmd = &cobra.Command{
	Use:   "form URL",
	Short: "Fill a form, submit it, and extract the resulting page.",
	Long: `Loads the page, fills each --field selector=value pair, clicks the submit
button, and extracts whatever page the submission lands on.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseFields(formFields)
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return fmt.Errorf("at least one --field is required")
		}

		opts, err := extractOptions()
		if err != nil {
			return err
		}

		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.cleanup()

		result := rt.orch.FormSubmitExtract(cmd.Context(), args[0], fields, formSubmitSel, formWaitFor, opts)

		if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("form workflow failed: %s", result.Error)
		}
		return nil
	},
}

// parseFields turns repeated "selector=value" flags into a field map.
func parseFields(raw []string) (map[string]string, error) {
	fields := make(map[string]string, len(raw))
	for _, pair := range raw {
		selector, value, ok := strings.Cut(pair, "=")
		if !ok || selector == "" {
			return nil, fmt.Errorf("invalid --field %q, expected selector=value", pair)
		}
		fields[selector] = value
	}
	return fields, nil
}

func init() {
	formCmd.Flags().StringArrayVar(&formFields, "field", nil, "form field as selector=value (repeatable)")
	formCmd.Flags().StringVar(&formSubmitSel, "submit-selector", "", "CSS selector for the submit button")
	formCmd.Flags().StringVar(&formWaitFor, "wait-for", "", "CSS selector to wait for after submitting")
	rootCmd.AddCommand(formCmd)
}
