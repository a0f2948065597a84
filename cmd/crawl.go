package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mpetrunic88/webrover/api/schemas"
)

var crawlStepsFile string

var crawlCmd = &cobra.Command{
	Use:   "crawl URL",
	Short: "Run a scripted sequence of actions against a page.",
	Long: `Loads the start page and then executes the steps from --steps, a JSON
array of actions:

  [
    {"type": "click", "params": {"selector": "#load-more"}, "extract_after": true},
    {"type": "wait", "params": {"selector": ".results", "timeout": 10}}
  ]

Steps marked "extract_after" capture and extract the page after the action.
A failed step is recorded and the crawl continues.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if crawlStepsFile == "" {
			return fmt.Errorf("--steps is required")
		}
		var steps []schemas.CrawlAction
		if err := readJSONFile(crawlStepsFile, &steps); err != nil {
			return err
		}
		if len(steps) == 0 {
			return fmt.Errorf("steps file contains no actions")
		}

		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.cleanup()

		result := rt.orch.InteractiveCrawl(cmd.Context(), args[0], steps)

		if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("crawl failed: %s", result.Error)
		}
		return nil
	},
}

func init() {
	crawlCmd.Flags().StringVar(&crawlStepsFile, "steps", "", "path to a JSON file of crawl steps (required)")
	rootCmd.AddCommand(crawlCmd)
}
