package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mpetrunic88/webrover/api/schemas"
)

var (
	loginURL       string
	loginUsername  string
	loginPassword  string
	loginTarget    string
	loginUserSel   string
	loginPassSel   string
	loginSubmitSel string
	loginSuccess   string
	loginFailure   string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against a login form and extract a protected page.",
	Long: `Runs the login-and-extract workflow: loads the login page, submits the
credentials, verifies the outcome, and extracts the target page (or the
post-login page when no target is given).

The password can be passed via --password or the WEBROVER_PASSWORD
environment variable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if loginPassword == "" {
			loginPassword = os.Getenv("WEBROVER_PASSWORD")
		}
		if loginURL == "" || loginUsername == "" || loginPassword == "" {
			return fmt.Errorf("--url, --username, and a password are required")
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

		result := rt.orch.LoginAndExtract(cmd.Context(),
			schemas.AuthConfig{
				LoginURL:         loginURL,
				UsernameSelector: loginUserSel,
				PasswordSelector: loginPassSel,
				SubmitSelector:   loginSubmitSel,
				SuccessIndicator: loginSuccess,
				FailureIndicator: loginFailure,
			},
			schemas.Credential{Username: loginUsername, Password: loginPassword},
			loginTarget, opts)

		if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("login workflow failed: %s", result.Error)
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginURL, "url", "", "login page URL (required)")
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "username (required)")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "password (or WEBROVER_PASSWORD)")
	loginCmd.Flags().StringVar(&loginTarget, "target", "", "page to extract after login (default: post-login page)")
	loginCmd.Flags().StringVar(&loginUserSel, "username-selector", "", "CSS selector for the username field")
	loginCmd.Flags().StringVar(&loginPassSel, "password-selector", "", "CSS selector for the password field")
	loginCmd.Flags().StringVar(&loginSubmitSel, "submit-selector", "", "CSS selector for the submit button")
	loginCmd.Flags().StringVar(&loginSuccess, "success-indicator", "", "CSS selector that confirms a successful login")
	loginCmd.Flags().StringVar(&loginFailure, "failure-indicator", "", "CSS selector that signals a rejected login")

	loginCmd.Flags().StringVarP(&extractMode, "mode", "m", "plain", "extraction mode: plain, structured, or instruction")
	loginCmd.Flags().StringVar(&extractSchemaFile, "schema", "", "path to a JSON extraction schema (structured mode)")
	loginCmd.Flags().StringVar(&extractInstruction, "instruction", "", "natural-language extraction instruction (instruction mode)")

	rootCmd.AddCommand(loginCmd)
}
