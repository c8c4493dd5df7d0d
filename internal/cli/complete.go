package cli

import (
	"context"

	"multi-complete/internal/config"
	"multi-complete/internal/llm"

	"github.com/spf13/cobra"
)

func newCompleteCmd() *cobra.Command {
	opts := &generateOptions{}
	cmd := &cobra.Command{
		Use:   "complete [prompt...]",
		Short: "Request several text completions for a prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runComplete(cmd, opts, args)
		},
	}
	opts.bind(cmd)
	return cmd
}

func runComplete(cmd *cobra.Command, opts *generateOptions, args []string) error {
	if err := opts.validate(); err != nil {
		return err
	}
	prompt, err := readInput(args, opts.InputFile, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if err := requirePrompt(prompt); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	llmCfg := opts.applyLLM(cfg.LLM)
	settings, err := opts.settings(cmd, llmCfg.Settings)
	if err != nil {
		return err
	}
	client, err := clientFactory(llmCfg)
	if err != nil {
		return err
	}

	req := llm.TextRequest{
		Model:    llmCfg.Model,
		Prompt:   prompt,
		Settings: settings,
	}
	return opts.emit(cmd.Context(), cmd.OutOrStdout(), settings.NumberOfResponses,
		func(ctx context.Context) (llm.Response, error) {
			return client.Complete(ctx, req)
		},
		func(ctx context.Context, handle llm.StreamHandler) (llm.Response, error) {
			return client.CompleteStream(ctx, req, handle)
		},
	)
}
