package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Trigger and inspect scans",
}

var scanTriggerCmd = &cobra.Command{
	Use:   "trigger PROJECT_ID",
	Short: "Trigger a scan for a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runScanTrigger,
}

var scanStatusCmd = &cobra.Command{
	Use:   "status SCAN_ID",
	Short: "Show scan status",
	Args:  cobra.ExactArgs(1),
	RunE:  runScanStatus,
}

var scanFindingsCmd = &cobra.Command{
	Use:   "findings SCAN_ID",
	Short: "List findings for a scan",
	Args:  cobra.ExactArgs(1),
	RunE:  runScanFindings,
}

func init() {
	scanTriggerCmd.Flags().String("user", "", "User ID owning the credentials for this scan (required)")
	scanTriggerCmd.Flags().String("repo", "", "Repository in owner/name form (required)")
	scanTriggerCmd.Flags().String("branch", "main", "Branch to scan")
	scanTriggerCmd.Flags().String("commit", "", "Commit SHA for a commit scan; omitted means initial scan")
	scanTriggerCmd.Flags().Int64("installation", 0, "GitHub App installation ID")
	_ = scanTriggerCmd.MarkFlagRequired("user")
	_ = scanTriggerCmd.MarkFlagRequired("repo")

	scanStatusCmd.Flags().Bool("wait", false, "Poll until the scan reaches a terminal state")
	scanStatusCmd.Flags().Duration("poll-interval", 5*time.Second, "Poll interval with --wait")

	scanCmd.AddCommand(scanTriggerCmd)
	scanCmd.AddCommand(scanStatusCmd)
	scanCmd.AddCommand(scanFindingsCmd)
}

// ScanResponse mirrors the API's scan representation.
type ScanResponse struct {
	ID           string       `json:"id"`
	ProjectID    string       `json:"project_id"`
	Kind         string       `json:"kind"`
	RepoFullName string       `json:"repo_full_name"`
	Branch       string       `json:"branch"`
	CommitSHA    string       `json:"commit_sha,omitempty"`
	Status       string       `json:"status"`
	Error        string       `json:"error,omitempty"`
	Summary      *ScanSummary `json:"summary,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
}

// ScanSummary mirrors the API's scan summary.
type ScanSummary struct {
	Critical        int    `json:"critical"`
	High            int    `json:"high"`
	Medium          int    `json:"medium"`
	Low             int    `json:"low"`
	Info            int    `json:"info"`
	TotalFindings   int    `json:"total_findings"`
	IgnoredFindings int    `json:"ignored_findings"`
	TriageMode      string `json:"triage_mode"`
	Degraded        bool   `json:"degraded"`
}

// FindingResponse mirrors the API's finding representation.
type FindingResponse struct {
	ID         string   `json:"id"`
	Severity   string   `json:"severity"`
	Type       string   `json:"type"`
	Title      string   `json:"title"`
	FilePath   string   `json:"file_path,omitempty"`
	StartLine  int      `json:"start_line,omitempty"`
	CVEID      string   `json:"cve_id,omitempty"`
	CVSSScore  *float64 `json:"cvss_score,omitempty"`
	Tool       string   `json:"tool"`
	RuleID     string   `json:"rule_id,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func runScanTrigger(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetString("user")
	repo, _ := cmd.Flags().GetString("repo")
	branch, _ := cmd.Flags().GetString("branch")
	commit, _ := cmd.Flags().GetString("commit")
	installation, _ := cmd.Flags().GetInt64("installation")

	body := map[string]any{
		"user_id":        userID,
		"repo_full_name": repo,
		"branch":         branch,
	}
	if commit != "" {
		body["commit_sha"] = commit
	}
	if installation != 0 {
		body["installation_id"] = installation
	}

	client := mustClient()
	data, err := client.Post("/api/v1/projects/"+args[0]+"/scans", body)
	if err != nil {
		return err
	}

	var resp ScanResponse
	if err := unmarshal(data, &resp); err != nil {
		return err
	}

	switch flagOutput {
	case outputJSON:
		printJSON(resp)
	case outputYAML:
		printYAML(resp)
	default:
		fmt.Printf("Scan %s queued (%s scan of %s@%s).\n", resp.ID, resp.Kind, resp.RepoFullName, resp.Branch)
		fmt.Printf("Watch it with: scanctl scan status %s --wait\n", resp.ID)
	}
	return nil
}

func runScanStatus(cmd *cobra.Command, args []string) error {
	wait, _ := cmd.Flags().GetBool("wait")
	interval, _ := cmd.Flags().GetDuration("poll-interval")

	client := mustClient()
	for {
		data, err := client.Get("/api/v1/scans/" + args[0])
		if err != nil {
			return err
		}

		var resp ScanResponse
		if err := unmarshal(data, &resp); err != nil {
			return err
		}

		terminal := resp.Status == "completed" || resp.Status == "failed"
		if !wait || terminal {
			printScan(resp)
			if resp.Status == "failed" {
				return fmt.Errorf("scan failed: %s", resp.Error)
			}
			return nil
		}

		if flagVerbose {
			fmt.Printf("scan %s is %s, polling again in %s\n", resp.ID, resp.Status, interval)
		}
		time.Sleep(interval)
	}
}

func printScan(resp ScanResponse) {
	switch flagOutput {
	case outputJSON:
		printJSON(resp)
	case outputYAML:
		printYAML(resp)
	default:
		fmt.Printf("Scan:    %s\n", resp.ID)
		fmt.Printf("Repo:    %s@%s\n", resp.RepoFullName, resp.Branch)
		fmt.Printf("Kind:    %s\n", resp.Kind)
		fmt.Printf("Status:  %s\n", resp.Status)
		if resp.Error != "" {
			fmt.Printf("Error:   %s\n", resp.Error)
		}
		if s := resp.Summary; s != nil {
			mode := s.TriageMode
			if s.Degraded {
				mode += " (degraded)"
			}
			fmt.Printf("Triage:  %s\n", mode)
			fmt.Printf("Findings: %d total, %d ignored\n", s.TotalFindings, s.IgnoredFindings)
			fmt.Printf("  critical=%d high=%d medium=%d low=%d info=%d\n",
				s.Critical, s.High, s.Medium, s.Low, s.Info)
		}
	}
}

func runScanFindings(cmd *cobra.Command, args []string) error {
	client := mustClient()
	data, err := client.Get("/api/v1/scans/" + args[0] + "/findings")
	if err != nil {
		return err
	}

	var resp struct {
		Data  []FindingResponse `json:"data"`
		Total int               `json:"total"`
	}
	if err := unmarshal(data, &resp); err != nil {
		return err
	}

	switch flagOutput {
	case outputJSON:
		printJSON(resp.Data)
	case outputYAML:
		printYAML(resp.Data)
	default:
		if resp.Total == 0 {
			fmt.Println("No findings.")
			return nil
		}
		t := newTable("SEVERITY", "TYPE", "TITLE", "LOCATION", "TOOL", "CVE")
		for _, f := range resp.Data {
			location := f.FilePath
			if f.StartLine > 0 {
				location = fmt.Sprintf("%s:%d", f.FilePath, f.StartLine)
			}
			tool := f.Tool
			if f.RuleID != "" {
				tool = f.Tool + "/" + f.RuleID
			}
			t.AddRow(f.Severity, f.Type, f.Title, location, tool, f.CVEID)
		}
		t.Flush()
		fmt.Printf("\n%d findings.\n", resp.Total)
	}
	return nil
}
