package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mpetrunic88/webrover/api/schemas"
	"github.com/mpetrunic88/webrover/internal/orchestrator"
)

var (
	extractMode        string
	extractSchemaFile  string
	extractInstruction string
	extractWaitFor     string
	extractScroll      int
	extractNoBrowser   bool
)

var extractCmd = &cobra.Command{
	Use:   "extract URL [URL...]",
	Short: "Navigate to one or more pages and extract their content.",
	Long: `Extracts content from web pages.

A single URL runs a browser-backed navigate-and-extract. With --wait-for or
--scroll the page is treated as dynamic: extraction waits for the selector to
render and scrolls to the bottom the requested number of times. Multiple URLs
(or --no-browser) are fetched concurrently over plain HTTP.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := extractOptions()
		if err != nil {
			return err
		}

		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.cleanup()

		var result *schemas.WorkflowResult
		switch {
		case len(args) > 1 || extractNoBrowser:
			result = rt.orch.ParallelExtract(cmd.Context(), args, opts)
		case extractWaitFor != "" || extractScroll > 0:
			result = rt.orch.DynamicContentExtract(cmd.Context(), args[0], extractWaitFor, extractScroll, opts)
		default:
			result = rt.orch.NavigateAndExtract(cmd.Context(), args[0], opts)
		}

		if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("extraction failed: %s", result.Error)
		}
		return nil
	},
}

// extractOptions assembles the extraction mode from the mode flags shared by
// the workflow commands.
func extractOptions() (orchestrator.ExtractOptions, error) {
	opts := orchestrator.ExtractOptions{Mode: schemas.ExtractionMode(extractMode)}

	switch opts.Mode {
	case "", schemas.ModePlain:
		opts.Mode = schemas.ModePlain
	case schemas.ModeStructured:
		if extractSchemaFile == "" {
			return opts, fmt.Errorf("--schema is required with --mode structured")
		}
		var schema schemas.ExtractionSchema
		if err := readJSONFile(extractSchemaFile, &schema); err != nil {
			return opts, err
		}
		if err := schema.Validate(); err != nil {
			return opts, err
		}
		opts.Schema = &schema
	case schemas.ModeInstruction:
		if extractInstruction == "" {
			return opts, fmt.Errorf("--instruction is required with --mode instruction")
		}
		opts.Instruction = extractInstruction
	default:
		return opts, fmt.Errorf("unknown extraction mode %q (plain, structured, instruction)", extractMode)
	}
	return opts, nil
}

func init() {
	extractCmd.Flags().StringVarP(&extractMode, "mode", "m", "plain", "extraction mode: plain, structured, or instruction")
	extractCmd.Flags().StringVar(&extractSchemaFile, "schema", "", "path to a JSON extraction schema (structured mode)")
	extractCmd.Flags().StringVar(&extractInstruction, "instruction", "", "natural-language extraction instruction (instruction mode)")
	extractCmd.Flags().StringVar(&extractWaitFor, "wait-for", "", "CSS selector to wait for before extracting")
	extractCmd.Flags().IntVar(&extractScroll, "scroll", 0, "scroll to the page bottom this many times before extracting")
	extractCmd.Flags().BoolVar(&extractNoBrowser, "no-browser", false, "fetch over plain HTTP instead of a browser")
	rootCmd.AddCommand(extractCmd)
}
