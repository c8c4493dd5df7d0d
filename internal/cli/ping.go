package cli

import (
	"errors"
	"fmt"
	"time"

	"multi-complete/internal/config"
	"multi-complete/internal/llm"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type pingOptions struct {
	Stream   bool
	NoStream bool
	Model    string
	URL      string
	Token    string
}

func newPingCmd() *cobra.Command {
	opts := &pingOptions{}
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Test backend connectivity with config or flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPing(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Stream, "stream", false, "stream response")
	cmd.Flags().BoolVar(&opts.NoStream, "no-stream", false, "disable streaming response")
	cmd.Flags().StringVar(&opts.Model, "model", "", "override model name")
	cmd.Flags().StringVar(&opts.URL, "url", "", "override base url")
	cmd.Flags().StringVar(&opts.Token, "token", "", "override access token")

	return cmd
}

func runPing(cmd *cobra.Command, opts *pingOptions) error {
	if opts.Stream && opts.NoStream {
		return errors.New("only one of --stream or --no-stream can be set")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	llmCfg := cfg.LLM
	llmCfg.Model = firstNonEmpty(opts.Model, llmCfg.Model)
	llmCfg.URL = firstNonEmpty(opts.URL, llmCfg.URL)
	llmCfg.Token = firstNonEmpty(opts.Token, llmCfg.Token)

	client, err := clientFactory(llmCfg)
	if err != nil {
		return err
	}

	settings := llmCfg.Settings
	settings.NumberOfResponses = 1
	req := llm.ChatRequest{
		Model:    llmCfg.Model,
		Messages: buildMessages("", "ping"),
		Settings: settings,
	}

	ctx := cmd.Context()
	start := time.Now()
	if opts.Stream {
		_, err = client.ChatStream(ctx, req, func(batch []llm.Chunk) error {
			for _, chunk := range batch {
				if _, writeErr := fmt.Fprint(cmd.OutOrStdout(), chunk.Delta); writeErr != nil {
					return writeErr
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout())
	} else {
		resp, err := client.Chat(ctx, req)
		if err != nil {
			return err
		}
		content := ""
		if len(resp.Completions) > 0 {
			content = resp.Completions[0].Content
		}
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), content); err != nil {
			return err
		}
	}
	zerolog.Ctx(ctx).Info().Str("type", llmCfg.Type).Dur("latency", time.Since(start)).Msg("backend reachable")
	return nil
}
