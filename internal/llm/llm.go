// Package llm talks to text-generation services. Every call is deterministic
// (temperature 0) and bounded by a connect timeout and a total timeout.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrTransport covers timeouts and connection failures.
	ErrTransport = errors.New("generation transport error")
	// ErrProtocol covers non-2xx statuses and malformed response envelopes.
	ErrProtocol = errors.New("generation protocol error")
	// ErrUnparsableResponse means the generated text is not the required JSON shape.
	ErrUnparsableResponse = errors.New("unparsable generation response")
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultTotalTimeout   = 120 * time.Second
)

// Request is one generation call.
type Request struct {
	Prompt string
	System string
	// JSON asks the service to constrain output to a JSON object.
	JSON            bool
	MaxOutputTokens int
	// Timeout bounds the whole call. Zero uses the client default.
	Timeout time.Duration
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider       string
	Endpoint       string
	Model          string
	APIKey         string
	ConnectTimeout time.Duration
	TotalTimeout   time.Duration
}

// New builds the generator for cfg.Provider.
func New(cfg Config) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai", "":
		return NewOpenAIClient(cfg), nil
	case "ollama":
		return NewOllamaClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}

func newHTTPClient(connectTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	return &http.Client{Transport: transport}
}

// callContext detaches the call from caller cancellation and applies the
// total timeout.
func callContext(ctx context.Context, timeout, fallback time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = fallback
	}
	if timeout <= 0 {
		timeout = DefaultTotalTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func transportError(action string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransport, action, err)
}

func protocolError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

func truncateBody(body []byte) string {
	const max = 300
	text := strings.TrimSpace(string(body))
	if len(text) > max {
		return text[:max] + "..."
	}
	return text
}
