package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ragcore/ragcore/internal/config"
)

// newConfigCmd creates the config command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or initialize ragcore configuration",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a ragcore.yaml with default settings in the current directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.NewConfig()
			path := filepath.Join(".", "ragcore.yaml")
			if err := cfg.WriteYAML(path); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "data_dir: %s\n", cfg.Server.DataDir)
			fmt.Fprintf(cmd.OutOrStdout(), "transport: %s\n", cfg.Server.Transport)
			fmt.Fprintf(cmd.OutOrStdout(), "llm_provider: %s\n", cfg.LLM.Provider)
			fmt.Fprintf(cmd.OutOrStdout(), "embedder_provider: %s\n", cfg.Embedder.Provider)
			fmt.Fprintf(cmd.OutOrStdout(), "rerank_enabled: %v\n", cfg.Retrieval.RerankEnabled)
			fmt.Fprintf(cmd.OutOrStdout(), "keyword_assist_enabled: %v\n", cfg.Retrieval.KeywordAssistEnabled)
			fmt.Fprintf(cmd.OutOrStdout(), "external_source_enabled: %v\n", cfg.ExternalSource.Enabled)
			return nil
		},
	}
}
