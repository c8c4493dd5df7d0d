package cli

import (
	"context"
	"strings"

	"multi-complete/internal/config"
	"multi-complete/internal/llm"
	"multi-complete/internal/memory"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type chatOptions struct {
	generateOptions
	System string
	Recall string
}

func newChatCmd() *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat [prompt...]",
		Short: "Request several chat completions for a prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts, args)
		},
	}
	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.System, "system", "", "system prompt")
	cmd.Flags().StringVar(&opts.Recall, "recall", "", "add the best matching memory from this collection as context")
	return cmd
}

func runChat(cmd *cobra.Command, opts *chatOptions, args []string) error {
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

	system := opts.System
	if opts.Recall != "" {
		recalled, err := recallContext(cmd.Context(), cfg, llmCfg, opts.Recall, prompt)
		if err != nil {
			return err
		}
		system = joinSystem(system, recalled)
	}

	client, err := clientFactory(llmCfg)
	if err != nil {
		return err
	}
	req := llm.ChatRequest{
		Model:    llmCfg.Model,
		Messages: buildMessages(system, prompt),
		Settings: settings,
	}
	return opts.emit(cmd.Context(), cmd.OutOrStdout(), settings.NumberOfResponses,
		func(ctx context.Context) (llm.Response, error) {
			return client.Chat(ctx, req)
		},
		func(ctx context.Context, handle llm.StreamHandler) (llm.Response, error) {
			return client.ChatStream(ctx, req, handle)
		},
	)
}

func recallContext(ctx context.Context, cfg config.Config, llmCfg config.LLMConfig, collection, ask string) (string, error) {
	embedder, err := embedderFactory(llmCfg)
	if err != nil {
		return "", err
	}
	store, release, err := storeFactory(ctx, cfg.Memory)
	if err != nil {
		return "", err
	}
	defer release()

	text, err := memory.NewTextMemory(store, embedder).Recall(ctx, ask, memory.RecallOptions{Collection: collection})
	if err != nil {
		return "", err
	}
	zerolog.Ctx(ctx).Debug().Str("collection", collection).Bool("found", text != "").Msg("memory recalled")
	return text, nil
}

func joinSystem(system, recalled string) string {
	if strings.TrimSpace(recalled) == "" {
		return system
	}
	memoryNote := "Relevant memory:\n" + recalled
	if strings.TrimSpace(system) == "" {
		return memoryNote
	}
	return system + "\n\n" + memoryNote
}
