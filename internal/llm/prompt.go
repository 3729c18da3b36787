package llm

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const fallbackPrompt = "Você é um assistente de triagem de leads. Ajude o cliente com cordialidade."

// LoadSystemPrompt reads the versioned system prompt from disk
// (<dir>/<version>/system.txt). A missing file falls back to a minimal
// prompt so a bad deploy degrades answers instead of dropping messages.
func LoadSystemPrompt(dir, version string, logger *slog.Logger) string {
	path := filepath.Join(dir, version, "system.txt")
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("prompt file not found, using fallback", "path", path, "error", err)
		return fallbackPrompt
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		logger.Error("prompt file empty, using fallback", "path", path)
		return fallbackPrompt
	}
	return prompt
}
