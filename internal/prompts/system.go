package prompts

import (
	"fmt"
	"os"
	"strings"
)

// baseSystemTemplate is the default system prompt used when no prompt
// file is configured.
const baseSystemTemplate = `You are Think, an expert AI assistant.`

const (
	writeModeSuffix   = "You are in WRITE mode. Use write_file and delete_file when appropriate."
	discussModeSuffix = "You are in DISCUSS mode. You do not have access to write or delete files."
)

// BaseSystemPrompt returns the built-in system prompt.
func BaseSystemPrompt() string {
	return baseSystemTemplate
}

// LoadSystemPrompt reads the system prompt from path. An empty path or
// a missing file yields the built-in prompt; any other read failure is
// returned so a misconfigured deployment is noticed at startup.
func LoadSystemPrompt(path string) (string, error) {
	if path == "" {
		return baseSystemTemplate, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return baseSystemTemplate, nil
		}
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return baseSystemTemplate, nil
	}
	return text, nil
}

// WithMode appends the mode instruction to a base system prompt. The
// suffix tells the model whether the mutating file tools are available.
func WithMode(base string, write bool) string {
	suffix := discussModeSuffix
	if write {
		suffix = writeModeSuffix
	}
	return base + "\n\n" + suffix
}
