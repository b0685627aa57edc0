package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ignoreCmd = &cobra.Command{
	Use:   "ignore",
	Short: "Manage suppressed findings",
}

var ignoreAddCmd = &cobra.Command{
	Use:   "add PROJECT_ID FINGERPRINT",
	Short: "Suppress a finding by fingerprint",
	Long: `Suppress a finding by fingerprint.

The fingerprint identifies the same logical finding across scans, so
a suppression applies to future scans of the project as well.`,
	Args: cobra.ExactArgs(2),
	RunE: runIgnoreAdd,
}

var ignoreRemoveCmd = &cobra.Command{
	Use:   "remove PROJECT_ID FINGERPRINT",
	Short: "Restore a suppressed finding",
	Args:  cobra.ExactArgs(2),
	RunE:  runIgnoreRemove,
}

func init() {
	ignoreAddCmd.Flags().String("user", "", "User ID recording the suppression (required)")
	ignoreAddCmd.Flags().String("reason", "", "Why the finding is suppressed")
	_ = ignoreAddCmd.MarkFlagRequired("user")

	ignoreCmd.AddCommand(ignoreAddCmd)
	ignoreCmd.AddCommand(ignoreRemoveCmd)
}

func runIgnoreAdd(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetString("user")
	reason, _ := cmd.Flags().GetString("reason")

	client := mustClient()
	_, err := client.Post("/api/v1/projects/"+args[0]+"/ignored-rules", map[string]string{
		"fingerprint": args[1],
		"reason":      reason,
		"user_id":     userID,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Finding %s suppressed.\n", args[1])
	return nil
}

func runIgnoreRemove(cmd *cobra.Command, args []string) error {
	client := mustClient()
	if err := client.Delete("/api/v1/projects/" + args[0] + "/ignored-rules/" + args[1]); err != nil {
		return err
	}

	fmt.Printf("Finding %s restored.\n", args[1])
	return nil
}
