package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"multi-complete/internal/llm"
)

// readInput takes the prompt from args, from -F file, or from stdin with -F -.
func readInput(args []string, inputFile string, stdin io.Reader) (string, error) {
	if inputFile != "" && len(args) > 0 {
		return "", fmt.Errorf("input args and -F are mutually exclusive")
	}
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if inputFile == "" {
		return "", fmt.Errorf("input is required (args or -F)")
	}
	if inputFile == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return trimTrailingNewline(string(data)), nil
	}
	data, err := os.ReadFile(inputFile)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return trimTrailingNewline(string(data)), nil
}

func trimTrailingNewline(value string) string {
	return strings.TrimRight(value, "\r\n")
}

func buildMessages(system, prompt string) []llm.Message {
	messages := make([]llm.Message, 0, 2)
	if strings.TrimSpace(system) != "" {
		messages = append(messages, llm.Message{
			Role:    "system",
			Content: system,
		})
	}
	messages = append(messages, llm.Message{
		Role:    "user",
		Content: prompt,
	})
	return messages
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
