package cli

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"multi-complete/internal/config"
	"multi-complete/internal/display"
	"multi-complete/internal/llm"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// generateOptions are the flags shared by complete and chat.
type generateOptions struct {
	InputFile        string
	Stream           bool
	NoStream         bool
	Refresh          time.Duration
	Model            string
	URL              string
	Token            string
	MaxTokens        int
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	Responses        int
	Stop             []string
}

func (o *generateOptions) bind(cmd *cobra.Command) {
	defaults := llm.DefaultSettings()
	flags := cmd.Flags()
	flags.StringVarP(&o.InputFile, "file", "F", "", "prompt file, use -F- for stdin")
	flags.BoolVar(&o.Stream, "stream", false, "stream responses")
	flags.BoolVar(&o.NoStream, "no-stream", false, "disable streaming responses")
	flags.DurationVar(&o.Refresh, "refresh", display.DefaultInterval, "minimum time between redraws while streaming")
	flags.StringVar(&o.Model, "model", "", "override model name")
	flags.StringVar(&o.URL, "url", "", "override base url")
	flags.StringVar(&o.Token, "token", "", "override access token")
	flags.IntVar(&o.MaxTokens, "max-tokens", defaults.MaxTokens, "maximum tokens per response")
	flags.Float64Var(&o.Temperature, "temperature", defaults.Temperature, "sampling temperature")
	flags.Float64Var(&o.TopP, "top-p", defaults.TopP, "nucleus sampling probability mass")
	flags.Float64Var(&o.FrequencyPenalty, "frequency-penalty", defaults.FrequencyPenalty, "frequency penalty")
	flags.Float64Var(&o.PresencePenalty, "presence-penalty", defaults.PresencePenalty, "presence penalty")
	flags.IntVarP(&o.Responses, "responses", "n", defaults.NumberOfResponses, "number of responses to generate")
	flags.StringSliceVar(&o.Stop, "stop", nil, "stop sequence (repeatable)")
}

func (o *generateOptions) validate() error {
	if o.Stream && o.NoStream {
		return errors.New("only one of --stream or --no-stream can be set")
	}
	return nil
}

// applyLLM overrides connection fields that were given on the command line.
func (o *generateOptions) applyLLM(cfg config.LLMConfig) config.LLMConfig {
	cfg.Model = firstNonEmpty(o.Model, cfg.Model)
	cfg.URL = firstNonEmpty(o.URL, cfg.URL)
	cfg.Token = firstNonEmpty(o.Token, cfg.Token)
	return cfg
}

// settings starts from the configured settings and replaces only the values
// whose flags were explicitly set.
func (o *generateOptions) settings(cmd *cobra.Command, base llm.Settings) (llm.Settings, error) {
	flags := cmd.Flags()
	s := base
	if flags.Changed("max-tokens") {
		s.MaxTokens = o.MaxTokens
	}
	if flags.Changed("temperature") {
		s.Temperature = o.Temperature
	}
	if flags.Changed("top-p") {
		s.TopP = o.TopP
	}
	if flags.Changed("frequency-penalty") {
		s.FrequencyPenalty = o.FrequencyPenalty
	}
	if flags.Changed("presence-penalty") {
		s.PresencePenalty = o.PresencePenalty
	}
	if flags.Changed("responses") {
		s.NumberOfResponses = o.Responses
	}
	if flags.Changed("stop") {
		s.Stop = o.Stop
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// streamFunc is CompleteStream or ChatStream bound to a request.
type streamFunc func(ctx context.Context, handle llm.StreamHandler) (llm.Response, error)

// emit prints the responses, either all at once or redrawn as they stream.
func (o *generateOptions) emit(ctx context.Context, out io.Writer, n int, once func(ctx context.Context) (llm.Response, error), stream streamFunc) error {
	log := zerolog.Ctx(ctx)
	start := time.Now()
	var (
		resp llm.Response
		err  error
	)
	if o.Stream {
		board := display.NewBoard(out, n,
			display.WithInterval(o.Refresh),
			display.WithClear(display.IsTerminal(out)),
		)
		resp, err = stream(ctx, board.Append)
		if err != nil {
			return err
		}
		if err := board.Flush(); err != nil {
			return err
		}
	} else {
		resp, err = once(ctx)
		if err != nil {
			return err
		}
		if err := display.Render(out, resp.Texts()); err != nil {
			return err
		}
	}
	log.Debug().
		Str("model", resp.Model).
		Int("responses", len(resp.Completions)).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Dur("elapsed", time.Since(start)).
		Msg("completion finished")
	return nil
}

func requirePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return errors.New("prompt is required")
	}
	return nil
}
