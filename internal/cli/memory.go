package cli

import (
	"errors"
	"fmt"

	"multi-complete/internal/config"
	"multi-complete/internal/memory"

	"github.com/spf13/cobra"
)

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Save and recall texts by meaning",
	}
	cmd.AddCommand(newMemorySaveCmd())
	cmd.AddCommand(newMemoryRecallCmd())
	return cmd
}

type memorySaveOptions struct {
	InputFile  string
	Collection string
	Key        string
}

func newMemorySaveCmd() *cobra.Command {
	opts := &memorySaveOptions{}
	cmd := &cobra.Command{
		Use:   "save [text...]",
		Short: "Save a text under a key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemorySave(cmd, opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.InputFile, "file", "F", "", "text file, use -F- for stdin")
	cmd.Flags().StringVar(&opts.Collection, "collection", "", "collection (default memory.collection)")
	cmd.Flags().StringVar(&opts.Key, "key", "", "unique key for the text")
	return cmd
}

func runMemorySave(cmd *cobra.Command, opts *memorySaveOptions, args []string) error {
	if opts.Key == "" {
		return errors.New("--key is required")
	}
	text, err := readInput(args, opts.InputFile, cmd.InOrStdin())
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Memory.Store == config.StoreVolatile {
		return errors.New("memory.store volatile keeps nothing after this command exits, use file or redis to save")
	}
	mem, release, err := openTextMemory(cmd, cfg)
	if err != nil {
		return err
	}
	defer release()

	collection := firstNonEmpty(opts.Collection, cfg.Memory.Collection)
	if err := mem.Save(cmd.Context(), text, memory.SaveOptions{Collection: collection, Key: opts.Key}); err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "saved %s in %s\n", opts.Key, collection)
	return err
}

type memoryRecallOptions struct {
	InputFile  string
	Collection string
	Relevance  float64
	Limit      int
}

func newMemoryRecallCmd() *cobra.Command {
	opts := &memoryRecallOptions{}
	cmd := &cobra.Command{
		Use:   "recall [ask...]",
		Short: "Recall the saved texts closest to a question",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemoryRecall(cmd, opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.InputFile, "file", "F", "", "question file, use -F- for stdin")
	cmd.Flags().StringVar(&opts.Collection, "collection", "", "collection (default memory.collection)")
	cmd.Flags().Float64Var(&opts.Relevance, "relevance", memory.DefaultRelevance, "minimum relevance from 0 to 1")
	cmd.Flags().IntVar(&opts.Limit, "limit", memory.DefaultLimit, "maximum number of texts to recall")
	return cmd
}

func runMemoryRecall(cmd *cobra.Command, opts *memoryRecallOptions, args []string) error {
	if opts.Relevance <= 0 || opts.Relevance > 1 {
		return fmt.Errorf("--relevance must be greater than 0 and at most 1, got %v", opts.Relevance)
	}
	if opts.Limit < 1 {
		return fmt.Errorf("--limit must be at least 1, got %d", opts.Limit)
	}
	ask, err := readInput(args, opts.InputFile, cmd.InOrStdin())
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	mem, release, err := openTextMemory(cmd, cfg)
	if err != nil {
		return err
	}
	defer release()

	text, err := mem.Recall(cmd.Context(), ask, memory.RecallOptions{
		Collection: firstNonEmpty(opts.Collection, cfg.Memory.Collection),
		Relevance:  opts.Relevance,
		Limit:      opts.Limit,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
	return err
}

func openTextMemory(cmd *cobra.Command, cfg config.Config) (*memory.TextMemory, func(), error) {
	embedder, err := embedderFactory(cfg.LLM)
	if err != nil {
		return nil, nil, err
	}
	store, release, err := storeFactory(cmd.Context(), cfg.Memory)
	if err != nil {
		return nil, nil, err
	}
	return memory.NewTextMemory(store, embedder), release, nil
}
