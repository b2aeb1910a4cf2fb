package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ragcore/ragcore/internal/query"
	"github.com/ragcore/ragcore/pkg/ragapi"
)

// newQueryCmd creates the query command.
func newQueryCmd() *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Ask a question against the ingested knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), strings.Join(args, " "), topK)
		},
	}

	cmd.Flags().IntVar(&topK, "top-k", 8, "number of source chunks to retrieve")

	return cmd
}

func runQuery(ctx context.Context, text string, topK int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	svc, err := ragapi.New(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer svc.Close()

	resp, err := svc.Query(ctx, text, topK, query.ContextOpts{})
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	fmt.Println(resp.Answer)
	fmt.Printf("\nconfidence: %s (%.2f)\n", resp.ConfidenceLevel, resp.ConfidenceScore)
	if len(resp.Sources) > 0 {
		fmt.Println("\nsources:")
		for _, s := range resp.Sources {
			fmt.Printf("  - %s (score %.2f)\n", s.Source, s.FinalScore)
		}
	}
	return nil
}
