// Package ai provides the AI collaborator used to read factory replies:
// structured extraction and confidence scoring over a chat model.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/hochfrequenz/factory-coordinator/internal/domain"
	"github.com/hochfrequenz/factory-coordinator/internal/prompts"
)

// Providers understood by New
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderNone      = "none"
)

// errAPIKeyRequired is returned when a provider is selected without a key.
var errAPIKeyRequired = errors.New("API key required")

// completer sends one rendered prompt and returns the model's text
type completer interface {
	complete(ctx context.Context, p *prompts.Prompt) (string, error)
	retryable(err error) bool
}

// Options configures a Client
type Options struct {
	Provider   string
	Model      string
	BaseURL    string
	APIKey     string
	MaxTokens  int64
	MaxRetries int
	Prompts    *prompts.Loader
	Log        logrus.FieldLogger

	// initialBackoff overrides the first retry delay in tests
	initialBackoff time.Duration
}

// Client implements structured extraction and confidence scoring on top of
// a chat completion backend.
type Client struct {
	backend        completer
	prompts        *prompts.Loader
	log            logrus.FieldLogger
	maxTokens      int64
	maxRetries     int
	initialBackoff time.Duration
}

// New builds the client for opts.Provider. ProviderNone and an empty
// provider return (nil, nil): callers then run without an AI collaborator.
func New(opts Options) (*Client, error) {
	var backend completer
	switch strings.ToLower(opts.Provider) {
	case "", ProviderNone:
		return nil, nil
	case ProviderAnthropic:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or ai.api_key", errAPIKeyRequired)
		}
		backend = newAnthropicBackend(opts)
	case ProviderOpenAI:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("%w: set OPENAI_API_KEY or ai.api_key", errAPIKeyRequired)
		}
		backend = newOpenAIBackend(opts)
	default:
		return nil, fmt.Errorf("unknown ai provider %q", opts.Provider)
	}
	return newClient(backend, opts), nil
}

func newClient(backend completer, opts Options) *Client {
	c := &Client{
		backend:        backend,
		prompts:        opts.Prompts,
		log:            opts.Log,
		maxTokens:      opts.MaxTokens,
		maxRetries:     opts.MaxRetries,
		initialBackoff: opts.initialBackoff,
	}
	if c.prompts == nil {
		c.prompts = prompts.NewLoader()
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	if c.initialBackoff <= 0 {
		c.initialBackoff = 500 * time.Millisecond
	}
	return c
}

// ExtractStructuredData asks the model for a JSON object with schema's
// fields and returns it undecoded.
func (c *Client) ExtractStructuredData(ctx context.Context, text string, schema []domain.SchemaField) (json.RawMessage, error) {
	p, err := c.prompts.BuildExtractPrompt(prompts.ExtractData{Text: text, Fields: schema})
	if err != nil {
		return nil, fmt.Errorf("render extract prompt: %w", err)
	}

	out, err := c.call(ctx, p)
	if err != nil {
		return nil, err
	}

	raw := stripFences(out)
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("model returned invalid JSON: %.80q", raw)
	}
	return json.RawMessage(raw), nil
}

// EvaluateConfidence asks the model how well data is supported by text
func (c *Client) EvaluateConfidence(ctx context.Context, text string, data json.RawMessage) (float64, error) {
	p, err := c.prompts.BuildConfidencePrompt(prompts.ConfidenceData{Text: text, Data: string(data)})
	if err != nil {
		return 0, fmt.Errorf("render confidence prompt: %w", err)
	}

	out, err := c.call(ctx, p)
	if err != nil {
		return 0, err
	}
	return parseConfidence(out)
}

// call runs one completion with bounded exponential retries on transient
// errors (timeouts, 429, 5xx).
func (c *Client) call(ctx context.Context, p *prompts.Prompt) (string, error) {
	if c.maxTokens > 0 && (p.MaxTokens == 0 || p.MaxTokens > c.maxTokens) {
		p.MaxTokens = c.maxTokens
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialBackoff
	bo.MaxElapsedTime = 0 // ctx bounds the total

	var out string
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		text, err := c.backend.complete(ctx, p)
		if err == nil {
			out = text
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !c.retryable(err) {
			return backoff.Permanent(fmt.Errorf("non-retryable error: %w", err))
		}
		c.log.WithError(err).WithField("attempt", attempt).Debug("retrying AI call")
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(max(c.maxRetries, 0))), ctx))
	if err != nil {
		return "", err
	}
	return out, nil
}

func (c *Client) retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return c.backend.retryable(err)
}

func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

// stripFences removes a markdown code fence around the model's answer
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

var numberRe = regexp.MustCompile(`[-+]?\d*\.?\d+`)

// parseConfidence reads the first number in the model's answer
func parseConfidence(s string) (float64, error) {
	m := numberRe.FindString(s)
	if m == "" {
		return 0, fmt.Errorf("no confidence value in %q", s)
	}
	return strconv.ParseFloat(m, 64)
}
