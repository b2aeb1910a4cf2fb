package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ragcore/ragcore/pkg/ragapi"
)

// newDoctorCmd creates the doctor command, which cross-checks the
// vector store, BM25 index, and metadata store for drift.
func newDoctorCmd() *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check cross-store consistency between the vector, BM25, and metadata stores",
		Long: `Walks every chunk ID in the metadata store, the BM25 index, and the
vector store, reporting orphans (present in an index but not in
metadata) and missing entries (present in metadata but not in an
index). With --repair, orphans are deleted; missing entries still
require re-ingesting the owning document.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context(), repair)
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "delete orphaned index entries found during the check")

	return cmd
}

func runDoctor(ctx context.Context, repair bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	svc, err := ragapi.New(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer svc.Close()

	report, err := svc.CheckConsistency(ctx, repair)
	if err != nil {
		return fmt.Errorf("consistency check failed: %w", err)
	}

	fmt.Printf("checked %d chunks in %s, %d issue(s) found\n", report.Checked, report.Duration, len(report.Issues))
	for _, issue := range report.Issues {
		fmt.Printf("  %s: %s (%s)\n", issue.Type, issue.ChunkID, issue.Details)
	}
	if repair && len(report.Issues) > 0 {
		fmt.Println("repair: orphaned entries deleted where possible; missing entries require re-ingestion")
	}
	return nil
}
