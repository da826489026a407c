package llm

import (
	"errors"
	"fmt"
	"strings"
)

// Strategy turns raw generated text into a JSON candidate. ok is false when
// the strategy does not apply.
type Strategy struct {
	Name    string
	Extract func(text string) (candidate string, ok bool)
}

// RecoveryStrategies are tried in order until one yields a candidate the
// decoder accepts.
var RecoveryStrategies = []Strategy{
	{Name: "direct", Extract: directCandidate},
	{Name: "fence", Extract: stripMarkdownFence},
	{Name: "brace", Extract: braceSlice},
}

// Recover decodes text with the first strategy whose candidate decode accepts.
// It returns the decoded value and the strategy name, or ErrUnparsableResponse.
func Recover[T any](text string, decode func([]byte) (T, error)) (T, string, error) {
	var (
		zero    T
		lastErr error
	)
	for _, strategy := range RecoveryStrategies {
		candidate, ok := strategy.Extract(text)
		if !ok {
			continue
		}
		value, err := decode([]byte(candidate))
		if err == nil {
			return value, strategy.Name, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no JSON object found")
	}
	return zero, "", fmt.Errorf("%w: %v", ErrUnparsableResponse, lastErr)
}

func directCandidate(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	return trimmed, trimmed != ""
}

func stripMarkdownFence(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return "", false
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	// Drop the info string, e.g. ```json.
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
		if info := strings.TrimSpace(trimmed[:newline]); !strings.ContainsAny(info, "{[") {
			trimmed = trimmed[newline+1:]
		}
	}
	trimmed = strings.TrimSpace(trimmed)
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	return trimmed, trimmed != ""
}

func braceSlice(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
